package advertisement

import (
	"bytes"
	"encoding/binary"

	"github.com/nearbyshare/sharecore/internal/wire"
)

// BLEAdvertisementHeader é o cabeçalho curto transmitido em anúncios BLE
// V2: uma bloom filter de service-ids, um hash do anúncio completo e,
// opcionalmente, um valor PSM para GATT sobre L2CAP.
type BLEAdvertisementHeader struct {
	version                      Version
	supportExtendedAdvertisement bool
	numSlots                     int
	serviceIDBloomFilter         []byte
	advertisementHash            []byte
	psm                          int
	hasPsm                       bool
	valid                        bool
}

// NewBLEAdvertisementHeader constrói o cabeçalho a partir de campos
// decididos pelo anunciante.
func NewBLEAdvertisementHeader(
	supportExtendedAdvertisement bool,
	numSlots int,
	serviceIDBloomFilter []byte,
	advertisementHash []byte,
	psm int,
) *BLEAdvertisementHeader {
	h := &BLEAdvertisementHeader{
		version:                      VersionV2,
		supportExtendedAdvertisement: supportExtendedAdvertisement,
		numSlots:                     numSlots,
		serviceIDBloomFilter:         serviceIDBloomFilter,
		advertisementHash:            advertisementHash,
		psm:                          psm,
		hasPsm:                       psm != 0,
	}

	if numSlots < 0 {
		return h
	}
	if len(serviceIDBloomFilter) != bleServiceIDBloomFilterLen {
		return h
	}
	if len(advertisementHash) != bleAdvertisementHashLen {
		return h
	}

	h.valid = true
	return h
}

// ParseBLEAdvertisementHeader decodifica a string Base64 recebida do
// anúncio BLE.
func ParseBLEAdvertisementHeader(encoded string) *BLEAdvertisementHeader {
	raw, err := wire.DecodeBase64(encoded)
	if err != nil || len(raw) < minBLEAdvertisementHdrLen {
		return &BLEAdvertisementHeader{}
	}

	r := bytes.NewReader(raw)
	versionByte, _ := wire.ReadUint8(r)
	version := Version((versionByte & bleVersionBitmask) >> 5)
	if version != VersionV2 {
		return &BLEAdvertisementHeader{}
	}
	extended := (versionByte&bleExtendedBitmask)>>4 == 1
	numSlots := int(versionByte & bleNumSlotsBitmask)

	bloomFilter, err := wire.ReadExactly(r, bleServiceIDBloomFilterLen)
	if err != nil {
		return &BLEAdvertisementHeader{}
	}
	advHash, err := wire.ReadExactly(r, bleAdvertisementHashLen)
	if err != nil {
		return &BLEAdvertisementHeader{}
	}

	h := &BLEAdvertisementHeader{
		version:                      version,
		supportExtendedAdvertisement: extended,
		numSlots:                     numSlots,
		serviceIDBloomFilter:         bloomFilter,
		advertisementHash:            advHash,
		valid:                        true,
	}

	// PSM é opcional: só presente se ao menos 2 bytes restarem.
	if psmBytes, err := wire.ReadExactly(r, blePsmValueLen); err == nil {
		h.psm = int(binary.BigEndian.Uint16(psmBytes))
		h.hasPsm = true
	}

	return h
}

func (h *BLEAdvertisementHeader) IsValid() bool                       { return h.valid }
func (h *BLEAdvertisementHeader) Version() Version                    { return h.version }
func (h *BLEAdvertisementHeader) SupportExtendedAdvertisement() bool  { return h.supportExtendedAdvertisement }
func (h *BLEAdvertisementHeader) NumSlots() int                       { return h.numSlots }
func (h *BLEAdvertisementHeader) ServiceIDBloomFilter() []byte        { return h.serviceIDBloomFilter }
func (h *BLEAdvertisementHeader) AdvertisementHash() []byte           { return h.advertisementHash }
func (h *BLEAdvertisementHeader) Psm() (int, bool)                    { return h.psm, h.hasPsm }

// Encode serializa o cabeçalho em Base64. Retorna string vazia quando
// IsValid() é false.
func (h *BLEAdvertisementHeader) Encode() string {
	if !h.valid {
		return ""
	}

	buf := new(bytes.Buffer)
	versionByte := byte((uint8(h.version)<<5)&bleVersionBitmask) | byte(h.numSlots&bleNumSlotsBitmask)
	if h.supportExtendedAdvertisement {
		versionByte |= bleExtendedBitmask
	}
	buf.WriteByte(versionByte)
	buf.Write(h.serviceIDBloomFilter)
	buf.Write(h.advertisementHash)

	if h.hasPsm {
		var psmBytes [2]byte
		binary.BigEndian.PutUint16(psmBytes[:], uint16(h.psm))
		buf.Write(psmBytes[:])
	}

	return wire.EncodeBase64(buf.Bytes())
}
