// Package attachment define o modelo de dados de um alvo de
// compartilhamento e dos anexos que ele carrega — grounded em
// internal/protocol/types.go, que usa a mesma forma de struct simples
// mais construtor para o pacote de domínio do protocolo de mensagens.
package attachment

// DeviceType identifica a categoria do dispositivo remoto.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypePhone
	DeviceTypeTablet
	DeviceTypeLaptop
	DeviceTypeCar
	DeviceTypeXR
)

// FileSemanticType classifica um FileAttachment por conteúdo.
type FileSemanticType int

const (
	FileSemanticUnknown FileSemanticType = iota
	FileSemanticImage
	FileSemanticVideo
	FileSemanticAudio
	FileSemanticApp
	FileSemanticDocument
)

// TextSemanticType classifica um TextAttachment.
type TextSemanticType int

const (
	TextSemanticUnknown TextSemanticType = iota
	TextSemanticText
	TextSemanticURL
	TextSemanticPhoneNumber
	TextSemanticAddress
)

// WifiSecurityType é o tipo de segurança de um WifiCredentialsAttachment.
type WifiSecurityType int

const (
	WifiSecurityUnknown WifiSecurityType = iota
	WifiSecurityOpen
	WifiSecurityWPAPSK
	WifiSecurityWEP
)

// Kind distingue as três variantes polimórficas de Attachment.
type Kind int

const (
	KindFile Kind = iota
	KindText
	KindWifiCredentials
)

// Attachment é implementado por FileAttachment, TextAttachment e
// WifiCredentialsAttachment. O id de 64 bits é gerado localmente pelo
// introdutor e é único dentro da sessão.
type Attachment interface {
	ID() int64
	Kind() Kind
}

// FileAttachment representa um arquivo a ser transferido.
type FileAttachment struct {
	IDValue      int64
	Size         int64
	FileName     string
	MimeType     string
	SemanticType FileSemanticType
	ParentFolder string
	LocalPath    string
	HasLocalPath bool
}

func (f FileAttachment) ID() int64 { return f.IDValue }
func (f FileAttachment) Kind() Kind { return KindFile }

// TextAttachment representa um bloco de texto (mensagem, URL, telefone,
// endereço) a ser transferido.
type TextAttachment struct {
	IDValue      int64
	SemanticType TextSemanticType
	Title        string
	Size         int64
	Body         string
}

func (t TextAttachment) ID() int64  { return t.IDValue }
func (t TextAttachment) Kind() Kind { return KindText }

// WifiCredentialsAttachment representa uma credencial de rede Wi-Fi
// compartilhada.
type WifiCredentialsAttachment struct {
	IDValue      int64
	SSID         string
	SecurityType WifiSecurityType
	Password     string
	IsHidden     bool
}

func (w WifiCredentialsAttachment) ID() int64  { return w.IDValue }
func (w WifiCredentialsAttachment) Kind() Kind { return KindWifiCredentials }

// ShareTarget identifica o peer remoto de uma sessão de compartilhamento
// e a lista de anexos associada a ela.
type ShareTarget struct {
	ID           string
	DeviceName   string
	DeviceType   DeviceType
	IsIncoming   bool
	ForSelfShare bool

	FullName    string
	HasFullName bool
	ImageURL    string
	HasImageURL bool

	Attachments []Attachment
}

// NewShareTarget cria um ShareTarget sem identidade de certificado ainda
// resolvida; FullName/ImageURL são preenchidos depois, se um certificado
// público decifrado for encontrado (ver internal/resolve).
func NewShareTarget(id, deviceName string, deviceType DeviceType, isIncoming bool) *ShareTarget {
	return &ShareTarget{
		ID:         id,
		DeviceName: deviceName,
		DeviceType: deviceType,
		IsIncoming: isIncoming,
	}
}

// WithIdentity preenche o nome completo e a URL de imagem obtidos de um
// certificado público decifrado.
func (s *ShareTarget) WithIdentity(fullName, imageURL string) {
	s.FullName = fullName
	s.HasFullName = fullName != ""
	s.ImageURL = imageURL
	s.HasImageURL = imageURL != ""
}
