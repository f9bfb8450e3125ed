// Package compress envolve a compressão LZ4 aplicada aos bytes de anexos
// de arquivo antes da transferência, quando o tipo MIME do anexo indica
// que vale a pena comprimir.
package compress

import (
	"bytes"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// minCompressibleSize é o menor tamanho de payload que justifica o
// overhead de compressão.
const minCompressibleSize = 100

// incompressibleMimePrefixes são tipos MIME cujos bytes já chegam
// comprimidos (imagens, áudio, vídeo, arquivos compactados).
var incompressibleMimePrefixes = []string{
	"image/", "audio/", "video/",
	"application/zip", "application/gzip", "application/x-rar",
	"application/x-7z", "application/x-xz", "application/x-bzip",
}

// Codec comprime/descomprime bytes de payload com LZ4.
type Codec struct {
	level lz4.CompressionLevel
}

// NewCodec cria um Codec no nível de compressão informado.
func NewCodec(level lz4.CompressionLevel) *Codec {
	return &Codec{level: level}
}

// DefaultCodec usa o nível rápido, adequado ao custo de CPU de um envio
// interativo.
func DefaultCodec() *Codec {
	return NewCodec(lz4.Fast)
}

// ShouldCompress decide se vale a pena comprimir data antes de enviá-lo,
// dado o tipo MIME declarado do anexo.
func ShouldCompress(data []byte, mimeType string) bool {
	if len(data) < minCompressibleSize {
		return false
	}
	for _, prefix := range incompressibleMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return false
		}
	}
	return true
}

// Compress comprime data com LZ4. O chamador deve ter consultado
// ShouldCompress antes — Compress sempre comprime, incondicionalmente.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverte Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	zr := lz4.NewReader(bytes.NewReader(data))
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
