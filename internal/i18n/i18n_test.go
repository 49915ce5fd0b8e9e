package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Math Whiz" {
		t.Errorf("T(AppTitle) = %q, want 'Math Whiz'", got)
	}

	got = T(ctx, "ParseFailed")
	if got != "The AI response could not be understood. Please try again." {
		t.Errorf("T(ParseFailed) = %q", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	got := T(ctx, "JobNotFound")
	if got != "Tarea no encontrada." {
		t.Errorf("T(JobNotFound) = %q, want 'Tarea no encontrada.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuestionsCreated", 1)
	if got1 != "1 question created." {
		t.Errorf("Tp(QuestionsCreated, 1) = %q, want '1 question created.'", got1)
	}

	got5 := Tp(ctx, "QuestionsCreated", 5)
	if got5 != "5 questions created." {
		t.Errorf("Tp(QuestionsCreated, 5) = %q, want '5 questions created.'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "MissingField", map[string]any{"Field": "topic"})
	if got != "Missing required field: topic." {
		t.Errorf("Td(MissingField) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "en")
	if n := len(Supported()); n != 2 {
		t.Errorf("Supported() has %d tags, want 2", n)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		header string
		want   string
	}{
		{"es-MX,es;q=0.9,en;q=0.8", "Clase no encontrada."},
		{"fr-FR", "Class not found."},
		{"", "Class not found."},
	}
	for _, tt := range tests {
		var got string
		h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = T(r.Context(), "ClassNotFound")
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestFallbackWithoutLocalizer(t *testing.T) {
	if err := Init("es"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Init("en") })

	got := T(context.Background(), "NotFound")
	if got != "No encontrado." {
		t.Errorf("T(NotFound) = %q, want the default language", got)
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a tag!"); err == nil {
		t.Error("Init accepted an invalid language tag")
	}
}
