package sharepb

import "bytes"

// WifiCredentialsPayload é o conteúdo do payload de bytes associado a um
// anexo de credenciais Wi-Fi: os dois campos que spec.md §4.H pede para
// copiar de volta ao anexo ao finalizar a transferência.
type WifiCredentialsPayload struct {
	Password string
	Hidden   bool
}

// Encode serializa o payload no mesmo formato string-com-prefixo usado
// pelos demais campos de texto do frame V1.
func (w WifiCredentialsPayload) Encode() []byte {
	buf := new(bytes.Buffer)
	writeString(buf, w.Password)
	if w.Hidden {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeWifiCredentialsPayload interpreta bytes produzidos por Encode.
func DecodeWifiCredentialsPayload(data []byte) (WifiCredentialsPayload, error) {
	r := bytes.NewReader(data)
	password, err := readString(r)
	if err != nil {
		return WifiCredentialsPayload{}, ErrInvalidV1Frame
	}
	hidden, err := r.ReadByte()
	if err != nil {
		return WifiCredentialsPayload{}, ErrInvalidV1Frame
	}
	return WifiCredentialsPayload{Password: password, Hidden: hidden == 1}, nil
}
