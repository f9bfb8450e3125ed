package attachment

import "testing"

func TestNewShareTargetDefaults(t *testing.T) {
	st := NewShareTarget("endpoint-1", "Pixel do Fulano", DeviceTypePhone, true)
	if st.ID != "endpoint-1" || st.DeviceName != "Pixel do Fulano" {
		t.Fatalf("campos básicos não preservados: %+v", st)
	}
	if !st.IsIncoming {
		t.Error("IsIncoming deveria ser true")
	}
	if st.HasFullName || st.HasImageURL {
		t.Error("identidade não deveria estar presente antes de WithIdentity")
	}
}

func TestWithIdentitySetsHasFlags(t *testing.T) {
	st := NewShareTarget("endpoint-2", "Laptop da Fulana", DeviceTypeLaptop, false)
	st.WithIdentity("Fulana da Silva", "https://example.com/avatar.png")

	if !st.HasFullName || st.FullName != "Fulana da Silva" {
		t.Errorf("FullName não aplicado: %+v", st)
	}
	if !st.HasImageURL || st.ImageURL != "https://example.com/avatar.png" {
		t.Errorf("ImageURL não aplicado: %+v", st)
	}
}

func TestWithIdentityEmptyStringsClearHasFlags(t *testing.T) {
	st := NewShareTarget("endpoint-3", "Carro", DeviceTypeCar, false)
	st.WithIdentity("Nome", "url")
	st.WithIdentity("", "")

	if st.HasFullName || st.HasImageURL {
		t.Error("strings vazias deveriam desligar os flags Has*")
	}
}

func TestAttachmentKindsAndIDs(t *testing.T) {
	file := FileAttachment{IDValue: 1, Size: 2048, FileName: "foto.jpg", MimeType: "image/jpeg", SemanticType: FileSemanticImage}
	text := TextAttachment{IDValue: 2, SemanticType: TextSemanticURL, Body: "https://example.com"}
	wifi := WifiCredentialsAttachment{IDValue: 3, SSID: "minha-rede", SecurityType: WifiSecurityWPAPSK, Password: "segredo"}

	var attachments []Attachment = []Attachment{file, text, wifi}

	wantKind := []Kind{KindFile, KindText, KindWifiCredentials}
	wantID := []int64{1, 2, 3}
	for i, a := range attachments {
		if a.Kind() != wantKind[i] {
			t.Errorf("anexo %d: Kind() = %v, esperado %v", i, a.Kind(), wantKind[i])
		}
		if a.ID() != wantID[i] {
			t.Errorf("anexo %d: ID() = %d, esperado %d", i, a.ID(), wantID[i])
		}
	}
}

func TestShareTargetCarriesMixedAttachments(t *testing.T) {
	st := NewShareTarget("endpoint-4", "Tablet", DeviceTypeTablet, true)
	st.Attachments = append(st.Attachments,
		FileAttachment{IDValue: 10, FileName: "doc.pdf", SemanticType: FileSemanticDocument},
		TextAttachment{IDValue: 11, SemanticType: TextSemanticText, Body: "olá"},
	)

	if len(st.Attachments) != 2 {
		t.Fatalf("esperado 2 anexos, obtido %d", len(st.Attachments))
	}
	if st.Attachments[0].Kind() != KindFile {
		t.Errorf("primeiro anexo deveria ser KindFile")
	}
	if st.Attachments[1].Kind() != KindText {
		t.Errorf("segundo anexo deveria ser KindText")
	}
}
