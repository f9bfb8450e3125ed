package advertisement

import (
	"bytes"

	"github.com/nearbyshare/sharecore/internal/attachment"
	"github.com/nearbyshare/sharecore/internal/verification"
	"github.com/nearbyshare/sharecore/internal/wire"
)

// EndpointInfo é o anúncio "Nearby endpoint info": o payload que viaja
// dentro do campo endpoint_info dos três formatos externos (nome Bluetooth,
// serviço Wi-Fi LAN, cabeçalho BLE). Ele é o que de fato carrega a
// identidade criptografada do anunciante, não as informações de roteamento
// de transporte dos outros três.
type EndpointInfo struct {
	version              Version
	visibility           verification.Visibility
	salt                 []byte
	encryptedMetadataKey []byte
	deviceType           attachment.DeviceType
	deviceName           string
	hasDeviceName        bool
	vendorID             byte
	hasVendorID          bool
	valid                bool
}

const (
	endpointInfoVersionBitmask    = 0xE0 // upper 3 bits
	endpointInfoVisibilityBitmask = 0x1F // lower 5 bits

	saltLength                 = 2
	encryptedMetadataKeyLength = 14
	minEndpointInfoLen         = 1 + saltLength + encryptedMetadataKeyLength + 1 // 18
)

// NewEndpointInfo constrói um anúncio a partir de campos já decididos pelo
// anunciante. deviceName é omitido da serialização quando visibility é
// VisibilityContacts, conforme spec.md §6 — mas ainda é guardado aqui para
// que o chamador o leia de volta antes de Encode.
func NewEndpointInfo(
	version Version,
	visibility verification.Visibility,
	salt []byte,
	encryptedMetadataKey []byte,
	deviceType attachment.DeviceType,
	deviceName string,
	vendorID byte,
	hasVendorID bool,
) *EndpointInfo {
	e := &EndpointInfo{
		version:              version,
		visibility:           visibility,
		salt:                 salt,
		encryptedMetadataKey: encryptedMetadataKey,
		deviceType:           deviceType,
		deviceName:           deviceName,
		hasDeviceName:        deviceName != "",
		vendorID:             vendorID,
		hasVendorID:          hasVendorID,
	}

	if len(salt) != saltLength {
		return e
	}
	if len(encryptedMetadataKey) != encryptedMetadataKeyLength {
		return e
	}
	if len(deviceName) > 255 {
		return e
	}

	e.valid = true
	return e
}

// ParseEndpointInfo decodifica os bytes crus recebidos de um dos três
// transportes externos. Um formato inválido resulta em IsValid() == false,
// nunca em um erro Go.
func ParseEndpointInfo(raw []byte) *EndpointInfo {
	if len(raw) < minEndpointInfoLen {
		return &EndpointInfo{}
	}

	r := bytes.NewReader(raw)
	versionAndVisibility, _ := wire.ReadUint8(r)
	version := Version((versionAndVisibility & endpointInfoVersionBitmask) >> 5)
	visibility := verification.Visibility(versionAndVisibility & endpointInfoVisibilityBitmask)

	salt, err := wire.ReadExactly(r, saltLength)
	if err != nil {
		return &EndpointInfo{}
	}

	encryptedMetadataKey, err := wire.ReadExactly(r, encryptedMetadataKeyLength)
	if err != nil {
		return &EndpointInfo{}
	}

	deviceTypeByte, err := wire.ReadUint8(r)
	if err != nil {
		return &EndpointInfo{}
	}

	e := &EndpointInfo{
		version:              version,
		visibility:           visibility,
		salt:                 salt,
		encryptedMetadataKey: encryptedMetadataKey,
		deviceType:           attachment.DeviceType(deviceTypeByte),
		valid:                true,
	}

	// O nome do dispositivo é omitido inteiramente em anúncios
	// contacts-only; sua ausência não é um erro de formato.
	if visibility == verification.VisibilityContacts {
		return e
	}

	nameLen, err := wire.ReadUint8(r)
	if err != nil {
		// Nenhum byte restante: anúncio válido sem nome de dispositivo
		// (compatibilidade com versões futuras do formato).
		return e
	}
	if nameLen > 0 {
		nameBytes, err := wire.ReadExactly(r, int32(nameLen))
		if err != nil {
			return &EndpointInfo{}
		}
		e.deviceName = string(nameBytes)
		e.hasDeviceName = true
	}

	if vendorID, err := wire.ReadUint8(r); err == nil {
		e.vendorID = vendorID
		e.hasVendorID = true
	}

	return e
}

// IsValid relata se o anúncio obedece às invariantes de tamanho.
func (e *EndpointInfo) IsValid() bool { return e.valid }

func (e *EndpointInfo) Version() Version                        { return e.version }
func (e *EndpointInfo) Visibility() verification.Visibility     { return e.visibility }
func (e *EndpointInfo) Salt() []byte                            { return e.salt }
func (e *EndpointInfo) EncryptedMetadataKey() []byte            { return e.encryptedMetadataKey }
func (e *EndpointInfo) DeviceType() attachment.DeviceType       { return e.deviceType }
func (e *EndpointInfo) DeviceName() (string, bool)              { return e.deviceName, e.hasDeviceName }
func (e *EndpointInfo) VendorID() (byte, bool)                  { return e.vendorID, e.hasVendorID }

// Encode serializa o anúncio nos bytes crus a embutir no campo
// endpoint_info de um dos três transportes externos. Retorna nil quando
// IsValid() é false. O nome do dispositivo é omitido quando a visibilidade
// é contacts-only, mesmo que o chamador o tenha preenchido.
func (e *EndpointInfo) Encode() []byte {
	if !e.valid {
		return nil
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(byte((uint8(e.version)<<5)&endpointInfoVersionBitmask) | byte(uint8(e.visibility)&endpointInfoVisibilityBitmask))
	buf.Write(e.salt)
	buf.Write(e.encryptedMetadataKey)
	buf.WriteByte(byte(e.deviceType))

	if e.visibility == verification.VisibilityContacts {
		return buf.Bytes()
	}

	if e.hasDeviceName {
		name := e.deviceName
		if len(name) > 255 {
			name = name[:255]
		}
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
	} else {
		buf.WriteByte(0)
	}

	if e.hasVendorID {
		buf.WriteByte(e.vendorID)
	}

	return buf.Bytes()
}
