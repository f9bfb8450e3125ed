package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressRoundtrip(t *testing.T) {
	codec := DefaultCodec()
	original := []byte(strings.Repeat("dados de teste repetitivos ", 50))

	compressed, err := codec.Compress(original)
	if err != nil {
		t.Fatalf("compress falhou: %v", err)
	}
	decompressed, err := codec.Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress falhou: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatalf("roundtrip não preservou os dados originais")
	}
}

func TestShouldCompressSkipsSmallPayloads(t *testing.T) {
	if ShouldCompress([]byte("pequeno"), "text/plain") {
		t.Fatalf("payload pequeno não deveria ser marcado para compressão")
	}
}

func TestShouldCompressSkipsAlreadyCompressedMimeTypes(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 200)
	if ShouldCompress(data, "image/jpeg") {
		t.Fatalf("imagem não deveria ser marcada para compressão")
	}
	if !ShouldCompress(data, "text/plain") {
		t.Fatalf("texto deveria ser marcado para compressão")
	}
}
