package advertisement

import (
	"bytes"

	"github.com/nearbyshare/sharecore/internal/wire"
)

// BluetoothDeviceName é o anúncio transportado no próprio nome do
// dispositivo Bluetooth clássico.
type BluetoothDeviceName struct {
	version      Version
	pcp          Pcp
	endpointID   string
	serviceIDHash []byte
	endpointInfo []byte
	uwbAddress   []byte
	webRTCState  WebRTCState
	valid        bool
}

// NewBluetoothDeviceName constrói um anúncio a partir de campos já
// decididos pelo chamador (o caminho do anunciante). Retorna um objeto cujo
// IsValid() é false se qualquer invariante de tamanho for violada.
func NewBluetoothDeviceName(
	version Version,
	pcp Pcp,
	endpointID string,
	serviceIDHash []byte,
	endpointInfo []byte,
	uwbAddress []byte,
	webRTCState WebRTCState,
) *BluetoothDeviceName {
	b := &BluetoothDeviceName{
		version:      version,
		pcp:          pcp,
		endpointID:   endpointID,
		serviceIDHash: serviceIDHash,
		endpointInfo: truncateEndpointInfo(endpointInfo),
		uwbAddress:   uwbAddress,
		webRTCState:  webRTCState,
	}

	if version != VersionV1 {
		return b
	}
	if len(endpointID) != endpointIDLength {
		return b
	}
	if len(serviceIDHash) != btServiceIDHashLen {
		return b
	}
	if !isValidPcp(pcp) {
		return b
	}

	b.valid = true
	return b
}

// ParseBluetoothDeviceName decodifica a string Base64 recebida do rádio
// Bluetooth. Um erro de formato resulta em um objeto com IsValid() == false,
// nunca em um erro Go — o chamador só precisa checar IsValid().
func ParseBluetoothDeviceName(encoded string) *BluetoothDeviceName {
	raw, err := wire.DecodeBase64(encoded)
	if err != nil || len(raw) < minBTDeviceNameLen {
		return &BluetoothDeviceName{}
	}

	r := bytes.NewReader(raw)
	versionAndPcp, _ := wire.ReadUint8(r)
	version := Version((versionAndPcp & versionBitmask) >> 5)
	if version != VersionV1 {
		return &BluetoothDeviceName{}
	}
	pcp := Pcp(versionAndPcp & pcpBitmask)
	if !isValidPcp(pcp) {
		return &BluetoothDeviceName{}
	}

	endpointIDBytes, err := wire.ReadExactly(r, endpointIDLength)
	if err != nil {
		return &BluetoothDeviceName{}
	}

	serviceIDHash, err := wire.ReadExactly(r, btServiceIDHashLen)
	if err != nil {
		return &BluetoothDeviceName{}
	}

	webRTCByte, err := wire.ReadUint8(r)
	if err != nil {
		return &BluetoothDeviceName{}
	}
	webRTCState := WebRTCStateUnconnectable
	if webRTCByte&webRTCConnectableFlagBitmask == 1 {
		webRTCState = WebRTCStateConnectable
	}

	if _, err := wire.ReadExactly(r, reservedLength); err != nil {
		return &BluetoothDeviceName{}
	}

	infoLen, err := wire.ReadUint8(r)
	if err != nil {
		return &BluetoothDeviceName{}
	}

	endpointInfo, err := wire.ReadExactly(r, int32(infoLen))
	if err != nil || len(endpointInfo) != int(infoLen) {
		return &BluetoothDeviceName{}
	}

	b := &BluetoothDeviceName{
		version:      version,
		pcp:          pcp,
		endpointID:   string(endpointIDBytes),
		serviceIDHash: serviceIDHash,
		endpointInfo: endpointInfo,
		webRTCState:  webRTCState,
		valid:        true,
	}

	// Campos opcionais de forward-compatibility: endereço UWB, se pelo
	// menos um byte ainda estiver disponível.
	if uwbLen, err := wire.ReadUint8(r); err == nil && uwbLen != 0 {
		uwbAddr, err := wire.ReadExactly(r, int32(uwbLen))
		if err != nil || len(uwbAddr) != int(uwbLen) {
			return &BluetoothDeviceName{}
		}
		b.uwbAddress = uwbAddr
	}

	return b
}

// IsValid relata se o anúncio obedece a todas as invariantes de tamanho e
// enumeração.
func (b *BluetoothDeviceName) IsValid() bool { return b.valid }

func (b *BluetoothDeviceName) Version() Version          { return b.version }
func (b *BluetoothDeviceName) Pcp() Pcp                  { return b.pcp }
func (b *BluetoothDeviceName) EndpointID() string        { return b.endpointID }
func (b *BluetoothDeviceName) ServiceIDHash() []byte     { return b.serviceIDHash }
func (b *BluetoothDeviceName) EndpointInfo() []byte      { return b.endpointInfo }
func (b *BluetoothDeviceName) UWBAddress() []byte        { return b.uwbAddress }
func (b *BluetoothDeviceName) WebRTCState() WebRTCState  { return b.webRTCState }

// Encode serializa o anúncio em Base64. Retorna string vazia quando
// IsValid() é false.
func (b *BluetoothDeviceName) Encode() string {
	if !b.valid {
		return ""
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(maskVersionPcp(b.version, b.pcp))
	buf.WriteString(b.endpointID)
	buf.Write(b.serviceIDHash)

	webRTCByte := byte(0)
	if b.webRTCState == WebRTCStateConnectable {
		webRTCByte = webRTCConnectableFlagBitmask
	}
	buf.WriteByte(webRTCByte)

	buf.Write(make([]byte, reservedLength))

	info := truncateEndpointInfo(b.endpointInfo)
	buf.WriteByte(byte(len(info)))
	buf.Write(info)

	if len(b.uwbAddress) > 0 {
		buf.WriteByte(byte(len(b.uwbAddress)))
		buf.Write(b.uwbAddress)
	}

	return wire.EncodeBase64(buf.Bytes())
}
