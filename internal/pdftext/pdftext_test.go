package pdftext

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(context.Context, []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestChainPrefersStructural(t *testing.T) {
	t.Parallel()

	structural := &fakeExtractor{text: "structural text"}
	plain := &fakeExtractor{text: "plain text"}
	text, err := Chain{Structural: structural, Plain: plain}.ExtractText(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)
	require.Equal(t, "structural text", text)
	require.Zero(t, plain.calls)
}

func TestChainFallsBackToPlain(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeExtractor{
		"error": {err: errors.New("service unavailable")},
		"blank": {text: "  \n "},
	}
	for name, structural := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			plain := &fakeExtractor{text: "plain text"}
			text, err := Chain{Structural: structural, Plain: plain}.ExtractText(context.Background(), []byte("%PDF-"))
			require.NoError(t, err)
			require.Equal(t, "plain text", text)
			require.Equal(t, 1, structural.calls)
			require.Equal(t, 1, plain.calls)
		})
	}
}

func TestChainUnparsableWhenBothFail(t *testing.T) {
	t.Parallel()

	structuralErr := errors.New("ocr crashed")
	plainErr := errors.New("no text layer")
	structural := &fakeExtractor{err: structuralErr}
	plain := &fakeExtractor{err: plainErr}

	_, err := Chain{Structural: structural, Plain: plain}.ExtractText(context.Background(), []byte("%PDF-"))
	require.ErrorIs(t, err, ErrUnparsable)
	require.ErrorIs(t, err, structuralErr)
	require.ErrorIs(t, err, plainErr)
	require.Equal(t, 1, structural.calls)
	require.Equal(t, 1, plain.calls)
}

func TestChainWithoutStructural(t *testing.T) {
	t.Parallel()

	plain := &fakeExtractor{text: "plain"}
	text, err := Chain{Plain: plain}.ExtractText(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "plain", text)

	_, err = Chain{Structural: NewStructural("", 0), Plain: &fakeExtractor{err: errors.New("x")}}.ExtractText(context.Background(), nil)
	require.ErrorIs(t, err, ErrDisabled)
}

func TestChainRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	plain := &fakeExtractor{text: "plain"}
	_, err := Chain{Plain: plain, MaxBytes: 4}.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.ErrorIs(t, err, ErrTooLarge)
	require.Zero(t, plain.calls)
}

func TestStructuralConvert(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, convertPath, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "%PDF-1.4 body", string(data))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"document": map[string]string{"md_content": "## Fournitures et Services courants", "text_content": "plain"},
		})
	}))
	t.Cleanup(srv.Close)

	s := NewStructural(srv.URL+"/", time.Second)
	text, err := s.ExtractText(context.Background(), []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	require.Equal(t, "## Fournitures et Services courants", text)
}

func TestStructuralErrors(t *testing.T) {
	t.Parallel()

	failed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"failure","document":{}}`)
	}))
	t.Cleanup(failed.Close)
	_, err := NewStructural(failed.URL, time.Second).ExtractText(context.Background(), []byte("%PDF-"))
	require.ErrorContains(t, err, "failure")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	_, err = NewStructural(broken.URL, time.Second).ExtractText(context.Background(), []byte("%PDF-"))
	require.ErrorContains(t, err, "500")
}

func TestPlainRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Plain{}.ExtractText(context.Background(), []byte("not a pdf at all"))
	require.Error(t, err)
}
