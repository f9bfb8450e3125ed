package advertisement

import (
	"bytes"

	"github.com/nearbyshare/sharecore/internal/wire"
)

// WifiLanServiceInfo é o anúncio publicado via mDNS/NSD: o nome do serviço
// carrega a maior parte dos campos, o registro TXT "n" carrega o endpoint
// info em Base64 separadamente (para não estourar limites de nome de
// serviço).
type WifiLanServiceInfo struct {
	version      Version
	pcp          Pcp
	endpointID   string
	serviceIDHash []byte
	endpointInfo []byte
	uwbAddress   []byte
	webRTCState  WebRTCState
	valid        bool
}

// TxtRecordKeyEndpointInfo é a chave do registro TXT que carrega o
// endpoint info codificado em Base64.
const TxtRecordKeyEndpointInfo = "n"

// NewWifiLanServiceInfo constrói o anúncio a partir de campos decididos
// pelo anunciante.
func NewWifiLanServiceInfo(
	version Version,
	pcp Pcp,
	endpointID string,
	serviceIDHash []byte,
	endpointInfo []byte,
	uwbAddress []byte,
	webRTCState WebRTCState,
) *WifiLanServiceInfo {
	w := &WifiLanServiceInfo{
		version:      version,
		pcp:          pcp,
		endpointID:   endpointID,
		serviceIDHash: serviceIDHash,
		endpointInfo: truncateEndpointInfo(endpointInfo),
		uwbAddress:   uwbAddress,
		webRTCState:  webRTCState,
	}

	if version != VersionV1 {
		return w
	}
	if len(endpointID) != endpointIDLength {
		return w
	}
	if len(serviceIDHash) != btServiceIDHashLen {
		return w
	}
	if !isValidPcp(pcp) {
		return w
	}

	w.valid = true
	return w
}

// ServiceName produz o valor Base64 a publicar como nome de serviço
// mDNS/NSD. Vazio quando inválido.
func (w *WifiLanServiceInfo) ServiceName() string {
	if !w.valid {
		return ""
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(maskVersionPcp(w.version, w.pcp))
	buf.WriteString(w.endpointID)
	buf.Write(w.serviceIDHash)

	if len(w.uwbAddress) > 0 {
		buf.WriteByte(byte(len(w.uwbAddress)))
		buf.Write(w.uwbAddress)
	} else if w.webRTCState != WebRTCStateUndefined {
		// Escrever comprimento 0 para permitir leitura do próximo campo.
		buf.WriteByte(0)
	}

	if w.webRTCState != WebRTCStateUndefined {
		webRTCByte := byte(0)
		if w.webRTCState == WebRTCStateConnectable {
			webRTCByte = webRTCConnectableFlagBitmask
		}
		buf.WriteByte(webRTCByte)
	}

	return wire.EncodeBase64(buf.Bytes())
}

// TxtRecordEndpointInfo produz o valor Base64 do registro TXT "n".
func (w *WifiLanServiceInfo) TxtRecordEndpointInfo() string {
	if !w.valid {
		return ""
	}
	return wire.EncodeBase64(truncateEndpointInfo(w.endpointInfo))
}

// ParseWifiLanServiceInfo decodifica o nome de serviço e o registro TXT
// correspondente.
func ParseWifiLanServiceInfo(serviceName string, txtEndpointInfo string) *WifiLanServiceInfo {
	var endpointInfo []byte
	if txtEndpointInfo != "" {
		info, err := wire.DecodeBase64(txtEndpointInfo)
		if err != nil || len(info) > maxEndpointInfoLen {
			return &WifiLanServiceInfo{}
		}
		endpointInfo = info
	}

	raw, err := wire.DecodeBase64(serviceName)
	if err != nil || len(raw) < minWifiLanServiceLen {
		return &WifiLanServiceInfo{}
	}

	r := bytes.NewReader(raw)
	versionAndPcp, _ := wire.ReadUint8(r)
	version := Version((versionAndPcp & versionBitmask) >> 5)
	if version != VersionV1 {
		return &WifiLanServiceInfo{}
	}
	pcp := Pcp(versionAndPcp & pcpBitmask)
	if !isValidPcp(pcp) {
		return &WifiLanServiceInfo{}
	}

	endpointIDBytes, err := wire.ReadExactly(r, endpointIDLength)
	if err != nil {
		return &WifiLanServiceInfo{}
	}
	serviceIDHash, err := wire.ReadExactly(r, btServiceIDHashLen)
	if err != nil {
		return &WifiLanServiceInfo{}
	}

	w := &WifiLanServiceInfo{
		version:      version,
		pcp:          pcp,
		endpointID:   string(endpointIDBytes),
		serviceIDHash: serviceIDHash,
		endpointInfo: endpointInfo,
		valid:        true,
	}

	if uwbLen, err := wire.ReadUint8(r); err == nil {
		if uwbLen != 0 {
			uwbAddr, err := wire.ReadExactly(r, int32(uwbLen))
			if err != nil || len(uwbAddr) != int(uwbLen) {
				return &WifiLanServiceInfo{}
			}
			w.uwbAddress = uwbAddr
		}

		w.webRTCState = WebRTCStateUndefined
		if extra, err := wire.ReadUint8(r); err == nil {
			if extra&webRTCConnectableFlagBitmask == 1 {
				w.webRTCState = WebRTCStateConnectable
			} else {
				w.webRTCState = WebRTCStateUnconnectable
			}
		}
	}

	return w
}

func (w *WifiLanServiceInfo) IsValid() bool            { return w.valid }
func (w *WifiLanServiceInfo) Version() Version         { return w.version }
func (w *WifiLanServiceInfo) Pcp() Pcp                 { return w.pcp }
func (w *WifiLanServiceInfo) EndpointID() string       { return w.endpointID }
func (w *WifiLanServiceInfo) ServiceIDHash() []byte    { return w.serviceIDHash }
func (w *WifiLanServiceInfo) EndpointInfo() []byte     { return w.endpointInfo }
func (w *WifiLanServiceInfo) UWBAddress() []byte       { return w.uwbAddress }
func (w *WifiLanServiceInfo) WebRTCState() WebRTCState { return w.webRTCState }
