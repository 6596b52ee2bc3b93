package security

import "testing"

func TestNewEvidenceSanitizer_ReturnsNonNil(t *testing.T) {
	s := NewEvidenceSanitizer()
	if s == nil {
		t.Fatal("NewEvidenceSanitizer は nil を返してはならない")
	}
}

func TestEvidenceSanitizer_ImplementsInterface(t *testing.T) {
	var _ EvidenceSanitizerService = NewEvidenceSanitizer()
}

func TestEvidenceSanitizer_PlainTextUnchanged(t *testing.T) {
	s := NewEvidenceSanitizer()

	tests := []string{
		"",
		"普通のポストテキスト",
		"you are terrible & so is your take",
		"日本語と English の混在テキスト 🔥",
	}
	for _, input := range tests {
		if got := s.Sanitize(input); got != input {
			t.Errorf("Sanitize(%q) = %q, want 変更なし", input, got)
		}
	}
}

func TestEvidenceSanitizer_StripsMarkup(t *testing.T) {
	s := NewEvidenceSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"scriptタグ除去", `hello <script>alert("xss")</script>world`, "hello world"},
		{"imgタグ除去", `text <img src="https://example.com/x.png"> more`, "text  more"},
		{"aタグはテキストのみ残す", `see <a href="https://evil.example">this</a>`, "see this"},
		{"イベント属性付きタグ除去", `<div onclick="steal()">content</div>`, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEvidenceSanitizer_Idempotent(t *testing.T) {
	s := NewEvidenceSanitizer()
	input := `toxic <b>bold</b> reply`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("冪等性違反: 1回目 %q, 2回目 %q", once, twice)
	}
}
