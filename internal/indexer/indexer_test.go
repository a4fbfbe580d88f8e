package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/deeprat/portfolio/internal/store"
	"github.com/deeprat/portfolio/pkg/models"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockIndexStore implements store.IndexStore for testing
type MockIndexStore struct {
	SaveFunc func(ctx context.Context, index *models.Index) error
	Saved    *models.Index
}

func (m *MockIndexStore) Save(ctx context.Context, index *models.Index) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, index); err != nil {
			return err
		}
	}
	m.Saved = index
	return nil
}

func (m *MockIndexStore) Load(ctx context.Context) (*models.Index, error) {
	if m.Saved == nil {
		return nil, store.ErrIndexNotFound
	}
	return m.Saved, nil
}

func (m *MockIndexStore) Close() {}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     []string
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls = append(m.calls, text)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Model() string { return "mock-embed" }

func (m *MockAIClient) Dim() int { return 3 }

// MockFileSystemWalker implements FileSystemWalker for testing. Paths are
// passed to the callback in order with a nil Dirent.
type MockFileSystemWalker struct {
	FilesToProcess []string
	WalkError      error
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	if m.WalkError != nil {
		return m.WalkError
	}
	for _, filePath := range m.FilesToProcess {
		if err := options.Callback(filePath, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockFileReader implements FileReader for testing
type MockFileReader struct {
	ReadFileFunc func(filename string) ([]byte, error)
	Files        map[string]string // path -> content
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(filename)
	}
	if content, exists := m.Files[filename]; exists {
		return []byte(content), nil
	}
	return nil, errors.New("file not found")
}

// MockPacer counts waits and optionally fails.
type MockPacer struct {
	Err   error
	Waits int
}

func (m *MockPacer) Wait(ctx context.Context) error {
	m.Waits++
	return m.Err
}

var (
	aboutText    = "I am a backend engineer who builds search and retrieval systems in Go."
	projectsText = "Projects include a vector index, a streaming chat service and a document ingester."
	fixedNow     = time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)
)

func TestIndexer_Run(t *testing.T) {
	tests := []struct {
		name            string
		paths           []string
		files           map[string]string
		walkErr         error
		saveErr         error
		pacerErr        error
		embed           func(ctx context.Context, text string) ([]float32, error)
		expectError     bool
		validateResults func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer)
	}{
		{
			name:  "indexes supported top-level files in order",
			paths: []string{"/kb/sources/about.md", "/kb/sources/photo.png", "/kb/sources/drafts/old.md", "/kb/sources/projects.txt"},
			files: map[string]string{
				"/kb/sources/about.md":      aboutText,
				"/kb/sources/photo.png":     "binary",
				"/kb/sources/drafts/old.md": strings.Repeat("draft ", 20),
				"/kb/sources/projects.txt":  projectsText,
			},
			validateResults: func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer) {
				want := []models.Chunk{
					{ID: "about_chunk_0", Content: aboutText, Filename: "about.md", Embedding: []float32{0.1, 0.2, 0.3}},
					{ID: "projects_chunk_0", Content: projectsText, Filename: "projects.txt", Embedding: []float32{0.1, 0.2, 0.3}},
				}
				if !reflect.DeepEqual(index.Chunks, want) {
					t.Errorf("Unexpected chunks:\n got %+v\nwant %+v", index.Chunks, want)
				}
				wantMeta := models.IndexMetadata{TotalChunks: 2, EmbeddingModel: "mock-embed", ChunkSize: 500, ChunkOverlap: 100}
				if index.Metadata != wantMeta {
					t.Errorf("Expected metadata %+v, got %+v", wantMeta, index.Metadata)
				}
				if index.Version != models.IndexVersion || !index.Created.Equal(fixedNow) {
					t.Errorf("Unexpected version %q or created %v", index.Version, index.Created)
				}
				if st.Saved != index {
					t.Error("Expected the returned index to be saved")
				}
				if pacer.Waits != 2 {
					t.Errorf("Expected one pacer wait per chunk, got %d", pacer.Waits)
				}
				if !reflect.DeepEqual(client.calls, []string{aboutText, projectsText}) {
					t.Errorf("Expected sequential embedding in document order, got %v", client.calls)
				}
			},
		},
		{
			name:  "failed embedding drops the chunk",
			paths: []string{"/kb/sources/about.md", "/kb/sources/projects.txt"},
			files: map[string]string{
				"/kb/sources/about.md":     aboutText,
				"/kb/sources/projects.txt": projectsText,
			},
			embed: func(ctx context.Context, text string) ([]float32, error) {
				if text == aboutText {
					return nil, errors.New("huggingface: 503 Service Unavailable")
				}
				return []float32{1, 0}, nil
			},
			validateResults: func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer) {
				if index.Len() != 1 || index.Chunks[0].ID != "projects_chunk_0" {
					t.Fatalf("Expected only projects_chunk_0, got %+v", index.Chunks)
				}
				if index.Metadata.TotalChunks != 1 {
					t.Errorf("Expected totalChunks 1, got %d", index.Metadata.TotalChunks)
				}
				if len(client.calls) != 2 {
					t.Errorf("Expected both chunks to be attempted, got %d calls", len(client.calls))
				}
			},
		},
		{
			name:  "empty embedding drops the chunk",
			paths: []string{"/kb/sources/about.md"},
			files: map[string]string{"/kb/sources/about.md": aboutText},
			embed: func(ctx context.Context, text string) ([]float32, error) {
				return []float32{}, nil
			},
			validateResults: func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer) {
				if index.Len() != 0 || index.Chunks == nil {
					t.Errorf("Expected empty non-nil chunks, got %#v", index.Chunks)
				}
			},
		},
		{
			name:  "unreadable file is skipped",
			paths: []string{"/kb/sources/missing.md", "/kb/sources/about.md"},
			files: map[string]string{"/kb/sources/about.md": aboutText},
			validateResults: func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer) {
				if index.Len() != 1 || index.Chunks[0].Filename != "about.md" {
					t.Errorf("Expected only about.md, got %+v", index.Chunks)
				}
			},
		},
		{
			name:  "short document yields no chunks",
			paths: []string{"/kb/sources/stub.md"},
			files: map[string]string{"/kb/sources/stub.md": "Coming soon."},
			validateResults: func(t *testing.T, index *models.Index, st *MockIndexStore, client *MockAIClient, pacer *MockPacer) {
				if index.Len() != 0 || len(client.calls) != 0 {
					t.Errorf("Expected no chunks and no provider calls, got %d chunks %d calls", index.Len(), len(client.calls))
				}
				if st.Saved == nil {
					t.Error("Expected an empty index to be saved")
				}
			},
		},
		{
			name:        "walk error",
			walkErr:     errors.New("permission denied"),
			expectError: true,
		},
		{
			name:        "store save error",
			paths:       []string{"/kb/sources/about.md"},
			files:       map[string]string{"/kb/sources/about.md": aboutText},
			saveErr:     errors.New("disk full"),
			expectError: true,
		},
		{
			name:        "pacer error aborts",
			paths:       []string{"/kb/sources/about.md"},
			files:       map[string]string{"/kb/sources/about.md": aboutText},
			pacerErr:    context.DeadlineExceeded,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &MockIndexStore{}
			if tt.saveErr != nil {
				st.SaveFunc = func(ctx context.Context, index *models.Index) error { return tt.saveErr }
			}
			client := &MockAIClient{EmbedFunc: tt.embed}
			pacer := &MockPacer{Err: tt.pacerErr}
			walker := &MockFileSystemWalker{FilesToProcess: tt.paths, WalkError: tt.walkErr}
			fileReader := &MockFileReader{Files: tt.files}

			ix := NewWithDependencies(st, "/kb/sources", client, walker, fileReader, pacer)
			ix.now = func() time.Time { return fixedNow }

			index, err := ix.Run(context.Background())
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if st.Saved != nil {
					t.Error("Expected nothing to be saved on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validateResults != nil {
				tt.validateResults(t, index, st, client, pacer)
			}
		})
	}
}

func TestIndexer_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := &MockIndexStore{}
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	walker := &MockFileSystemWalker{FilesToProcess: []string{"/kb/sources/about.md", "/kb/sources/projects.txt"}}
	reader := &MockFileReader{Files: map[string]string{
		"/kb/sources/about.md":     aboutText,
		"/kb/sources/projects.txt": projectsText,
	}}

	ix := NewWithDependencies(st, "/kb/sources", client, walker, reader, &MockPacer{})
	_, err := ix.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("Expected embedding to stop after cancellation, got %d calls", len(client.calls))
	}
	if st.Saved != nil {
		t.Error("Expected nothing to be saved after cancellation")
	}
}

func TestIndexer_RunOnDisk(t *testing.T) {
	sources := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		p := filepath.Join(sources, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b-projects.md", projectsText)
	write("a-about.txt", aboutText)
	write("logo.svg", "<svg/>")
	write("archive/old.md", strings.Repeat("old content ", 20))

	indexPath := filepath.Join(t.TempDir(), "vector-index.json")
	fs := store.NewFileStore(indexPath)
	ix := NewWithDependencies(fs, sources, ai.NewStubClient(16), &DefaultFileSystemWalker{}, &DefaultFileReader{}, NewPacer(0))

	index, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var names []string
	for _, c := range index.Chunks {
		names = append(names, c.Filename)
		if len(c.Embedding) != 16 {
			t.Errorf("Expected 16-dimensional embedding for %s, got %d", c.ID, len(c.Embedding))
		}
	}
	if !reflect.DeepEqual(names, []string{"a-about.txt", "b-projects.md"}) {
		t.Errorf("Expected sorted top-level documents, got %v", names)
	}

	loaded, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Metadata.EmbeddingModel != "stub" || loaded.Len() != 2 {
		t.Errorf("Unexpected stored index: model %q, %d chunks", loaded.Metadata.EmbeddingModel, loaded.Len())
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.md")
	if err := os.WriteFile(file, []byte(aboutText), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dir     string
		config  *ai.ClientConfig
		wantErr error
	}{
		{"missing directory", filepath.Join(dir, "nope"), &ai.ClientConfig{Provider: ai.ProviderStub}, ErrSourcesNotFound},
		{"path is a file", file, &ai.ClientConfig{Provider: ai.ProviderStub}, ErrSourcesNotFound},
		{"missing credential", dir, &ai.ClientConfig{Provider: ai.ProviderHuggingFace}, ai.ErrMissingCredential},
		{"stub provider", dir, &ai.ClientConfig{Provider: ai.ProviderStub}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := New(&MockIndexStore{}, tt.dir, tt.config, DefaultEmbedDelay)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ix.Pacer == nil || ix.Walker == nil || ix.FileReader == nil {
				t.Error("Expected default dependencies to be set")
			}
			if ix.Chunker != NewChunker() {
				t.Errorf("Expected default chunker, got %+v", ix.Chunker)
			}
		})
	}
}

func TestNewPacer(t *testing.T) {
	ctx := context.Background()
	p := NewPacer(0)
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Unpaced wait failed: %v", err)
		}
	}

	p = NewPacer(time.Hour)
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("First wait should pass immediately: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(short); err == nil {
		t.Error("Expected second wait to exceed the deadline")
	}
}

func TestSupported(t *testing.T) {
	tests := map[string]bool{
		"about.md":       true,
		"ABOUT.MD":       true,
		"notes.markdown": true,
		"resume.txt":     true,
		"resume.pdf":     true,
		"photo.png":      false,
		"script.go":      false,
		"README":         false,
		"archive.md.bak": false,
	}
	for path, want := range tests {
		if got := Supported(path); got != want {
			t.Errorf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestPDFText_Invalid(t *testing.T) {
	if _, err := pdfText(nil); err == nil {
		t.Error("Expected error for empty data")
	}
	if _, err := pdfText([]byte("definitely not a pdf")); err == nil {
		t.Error("Expected error for non-pdf data")
	}
}
