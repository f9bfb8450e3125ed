package wire

import (
	"bytes"
	"testing"
)

func TestReadUintShortRead(t *testing.T) {
	t.Run("uint32 com menos de 4 bytes falha sem consumir além do disponível", func(t *testing.T) {
		r := bytes.NewReader([]byte{0x01, 0x02})
		if _, err := ReadUint32(r); err != ErrShortRead {
			t.Fatalf("esperado ErrShortRead, obtido %v", err)
		}
	})
}

func TestReadInt32Roundtrip(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteFramed(buf, []byte("abcdefg")); err != nil {
		t.Fatalf("WriteFramed falhou: %v", err)
	}

	n, err := ReadInt32(buf)
	if err != nil {
		t.Fatalf("ReadInt32 falhou: %v", err)
	}
	if n != 7 {
		t.Fatalf("tamanho esperado 7, obtido %d", n)
	}

	data, err := ReadExactly(buf, n)
	if err != nil {
		t.Fatalf("ReadExactly falhou: %v", err)
	}
	if string(data) != "abcdefg" {
		t.Fatalf("dados esperados 'abcdefg', obtido %q", data)
	}
}

func TestBase64RoundtripURLSafeNoPadding(t *testing.T) {
	data := []byte{0xFF, 0x00, 0xAB, 0xCD, 0xEF}
	encoded := EncodeBase64(data)
	if bytes.ContainsAny([]byte(encoded), "=") {
		t.Fatalf("codificação não deveria conter padding: %q", encoded)
	}
	decoded, err := DecodeBase64(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64 falhou: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("roundtrip falhou: esperado %x, obtido %x", data, decoded)
	}
}

func TestWriteFramedFailure(t *testing.T) {
	if err := WriteFramed(failingWriter{}, []byte("x")); err != ErrWriteFailed {
		t.Fatalf("esperado ErrWriteFailed, obtido %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}
