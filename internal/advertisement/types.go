// Package advertisement empacota e desempacota os três formatos de anúncio
// usados pela descoberta de curto alcance: nome de dispositivo Bluetooth,
// informação de serviço Wi-Fi LAN e cabeçalho de anúncio BLE.
package advertisement

// Version identifica a versão do formato de anúncio.
type Version uint8

const (
	VersionUndefined Version = 0
	VersionV1        Version = 1 // Bluetooth device name / Wi-Fi LAN service info
	VersionV2        Version = 2 // BLE advertisement header
)

// Pcp (Protocol Connection Profile) seleciona a topologia peer-to-peer.
type Pcp uint8

const (
	PcpUnknown         Pcp = 0
	PcpP2pCluster      Pcp = 1
	PcpP2pStar         Pcp = 2
	PcpP2pPointToPoint Pcp = 3
)

func isValidPcp(p Pcp) bool {
	switch p {
	case PcpP2pCluster, PcpP2pStar, PcpP2pPointToPoint:
		return true
	default:
		return false
	}
}

// WebRTCState indica se o medium WebRTC está disponível como fallback.
type WebRTCState uint8

const (
	WebRTCStateUndefined    WebRTCState = 0
	WebRTCStateConnectable  WebRTCState = 1
	WebRTCStateUnconnectable WebRTCState = 2
)

const (
	endpointIDLength     = 4
	btServiceIDHashLen   = 3
	reservedLength       = 6
	maxEndpointInfoLen   = 131
	minBTDeviceNameLen   = 1 + endpointIDLength + btServiceIDHashLen + 1 + reservedLength + 1 // 16
	minWifiLanServiceLen = 1 + endpointIDLength + btServiceIDHashLen                           // 8

	multiplexServiceIDHashLen = 4

	bleServiceIDBloomFilterLen = 10
	bleAdvertisementHashLen    = 4
	blePsmValueLen             = 2
	minBLEAdvertisementHdrLen  = 1 + bleServiceIDBloomFilterLen + bleAdvertisementHashLen // 15

	versionBitmask               = 0xE0 // upper 3 bits
	pcpBitmask                   = 0x1F // lower 5 bits
	webRTCConnectableFlagBitmask = 0x01

	// Layout do primeiro byte do cabeçalho BLE: difere do layout
	// version|pcp acima — aqui é version(3 bits)|extended(1 bit)|slots(4 bits).
	bleVersionBitmask  = 0xE0 // upper 3 bits
	bleExtendedBitmask = 0x10 // bit 4
	bleNumSlotsBitmask = 0x0F // lower 4 bits
)

func maskVersionPcp(version Version, pcp Pcp) byte {
	return byte((uint8(version)<<5)&versionBitmask) | byte(uint8(pcp)&pcpBitmask)
}

func truncateEndpointInfo(info []byte) []byte {
	if len(info) > maxEndpointInfoLen {
		return info[:maxEndpointInfoLen]
	}
	return info
}
