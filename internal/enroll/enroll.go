// Package enroll registers employees and their reference face embeddings.
//
// Every image is analyzed before anything is written, so an enrollment that
// fails validation leaves storage and the identity index untouched.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/facematch"
)

// DefaultMinFaces is the number of usable images an enrollment needs.
const DefaultMinFaces = 3

// defaultQuality replaces detector scores outside [0, 1].
const defaultQuality = 0.5

var (
	ErrEmployeeNotFound  = errors.New("employee not found")
	ErrEmployeeExists    = errors.New("employee already exists")
	ErrImageProcessing   = errors.New("image processing failed")
	ErrFaceCount         = errors.New("expected exactly one face")
	ErrInsufficientFaces = errors.New("insufficient valid faces")
	ErrStorage           = errors.New("storage operation failed")
)

// allowedExtensions are the image types accepted for enrollment.
var allowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ImageAnalyzer detects faces in encoded image data.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, data []byte) ([]facematch.FaceObservation, error)
}

// Store is the storage the enroller writes to.
type Store interface {
	database.EmployeeWriter
	database.EmbeddingWriter
}

// Index is rebuilt from storage after every successful change.
type Index interface {
	Rebuild(embeddings [][]float32, labels []string) error
}

// Request describes one enrollment.
type Request struct {
	Employee database.Employee
	Images   []string
	// UpdateExisting allows enrolling a known employee; its previous enroll
	// embeddings are archived.
	UpdateExisting bool
	// OnImage, when set, is called once per image with its outcome.
	OnImage func(path string, err error)
}

// ImageError records why an image was not used.
type ImageError struct {
	Path string
	Err  error
}

func (e ImageError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e ImageError) Unwrap() error {
	return e.Err
}

// Result summarizes an enrollment.
type Result struct {
	EmployeeID string
	Stored     int
	Created    bool
	Skipped    []ImageError
}

// Enroller validates images and persists reference embeddings.
type Enroller struct {
	store    Store
	analyzer ImageAnalyzer
	index    Index
	minFaces int
}

// New creates an enroller. index may be nil when no live index needs
// refreshing. minFaces <= 0 uses DefaultMinFaces.
func New(store Store, analyzer ImageAnalyzer, index Index, minFaces int) *Enroller {
	if minFaces <= 0 {
		minFaces = DefaultMinFaces
	}
	return &Enroller{store: store, analyzer: analyzer, index: index, minFaces: minFaces}
}

type collected struct {
	path      string
	embedding []float32
	quality   float64
}

// Enroll analyzes every image of req and, when at least minFaces of them
// contain exactly one face, stores the embeddings and rebuilds the index.
func (e *Enroller) Enroll(ctx context.Context, req Request) (*Result, error) {
	emp := req.Employee
	emp.ID = strings.TrimSpace(emp.ID)
	emp.Name = strings.TrimSpace(emp.Name)
	if emp.ID == "" || emp.Name == "" {
		return nil, errors.New("employee ID and name cannot be empty")
	}
	if len(req.Images) == 0 {
		return nil, fmt.Errorf("%w: no images provided", ErrImageProcessing)
	}

	existing, err := e.store.GetEmployee(ctx, emp.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("%w: loading employee %s: %v", ErrStorage, emp.ID, err)
	}
	if existing != nil && existing.Active && !req.UpdateExisting {
		return nil, fmt.Errorf("%w: %s", ErrEmployeeExists, emp.ID)
	}

	result := &Result{EmployeeID: emp.ID, Created: existing == nil}
	var faces []collected
	for _, path := range req.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := e.analyze(ctx, path)
		if req.OnImage != nil {
			req.OnImage(path, err)
		}
		if err != nil {
			log.Warn().Err(err).Str("employee_id", emp.ID).Str("image", path).Msg("skipping enrollment image")
			result.Skipped = append(result.Skipped, ImageError{Path: path, Err: err})
			continue
		}
		faces = append(faces, c)
	}

	if len(faces) < e.minFaces {
		return result, fmt.Errorf("%w: %d < %d", ErrInsufficientFaces, len(faces), e.minFaces)
	}

	emp.Active = true
	if existing != nil {
		emp.CreatedAt = existing.CreatedAt
	}
	if err := e.store.SaveEmployee(ctx, emp); err != nil {
		return result, fmt.Errorf("%w: saving employee %s: %v", ErrStorage, emp.ID, err)
	}
	embs := make([]database.StoredEmbedding, 0, len(faces))
	for _, c := range faces {
		embs = append(embs, database.StoredEmbedding{
			EmployeeID:  emp.ID,
			Embedding:   c.embedding,
			Type:        database.EmbeddingEnroll,
			Quality:     c.quality,
			SourceImage: c.path,
		})
	}
	archived, err := e.store.ReplaceEnrollEmbeddings(ctx, emp.ID, embs)
	if err != nil {
		if existing == nil || !existing.Active {
			// an employee without references must not block a retry
			if derr := e.store.DeactivateEmployee(ctx, emp.ID); derr != nil {
				log.Warn().Err(derr).Str("employee_id", emp.ID).Msg("failed to deactivate employee after storage failure")
			}
		}
		return result, fmt.Errorf("%w: storing embeddings of %s: %v", ErrStorage, emp.ID, err)
	}
	result.Stored = len(embs)
	if archived > 0 {
		log.Info().Str("employee_id", emp.ID).Int64("archived", archived).Msg("archived previous enrollment")
	}

	action := "enrolled"
	if !result.Created {
		action = "updated"
	}
	log.Info().Str("employee_id", emp.ID).Str("name", emp.Name).Int("images", result.Stored).Msg("employee " + action)

	if err := e.RebuildIndex(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// AddEmbedding stores one more reference embedding for a known employee.
func (e *Enroller) AddEmbedding(ctx context.Context, employeeID, path string) error {
	if _, err := e.store.GetEmployee(ctx, employeeID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
		}
		return fmt.Errorf("%w: loading employee %s: %v", ErrStorage, employeeID, err)
	}

	c, err := e.analyze(ctx, path)
	if err != nil {
		return err
	}
	_, err = e.store.StoreEmbedding(ctx, database.StoredEmbedding{
		EmployeeID:  employeeID,
		Embedding:   c.embedding,
		Type:        database.EmbeddingEnroll,
		Quality:     c.quality,
		SourceImage: path,
	})
	if err != nil {
		return fmt.Errorf("%w: storing embedding from %s: %v", ErrStorage, path, err)
	}
	log.Info().Str("employee_id", employeeID).Str("image", path).Msg("added embedding")
	return e.RebuildIndex(ctx)
}

// Remove drops an employee's embeddings from the index. A soft removal
// archives them and deactivates the employee; a hard one deletes them.
func (e *Enroller) Remove(ctx context.Context, employeeID string, hard bool) (int64, error) {
	if _, err := e.store.GetEmployee(ctx, employeeID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
		}
		return 0, fmt.Errorf("%w: loading employee %s: %v", ErrStorage, employeeID, err)
	}

	var (
		n   int64
		err error
	)
	if hard {
		n, err = e.store.DeleteEmbeddings(ctx, employeeID)
	} else {
		n, err = e.store.ArchiveEmbeddings(ctx, employeeID, "")
	}
	if err != nil {
		return 0, fmt.Errorf("%w: removing embeddings of %s: %v", ErrStorage, employeeID, err)
	}
	if err := e.store.DeactivateEmployee(ctx, employeeID); err != nil {
		return n, fmt.Errorf("%w: deactivating %s: %v", ErrStorage, employeeID, err)
	}
	log.Info().Str("employee_id", employeeID).Int64("embeddings", n).Bool("hard", hard).Msg("employee removed")
	return n, e.RebuildIndex(ctx)
}

// RebuildIndex reloads the active embeddings into the index.
func (e *Enroller) RebuildIndex(ctx context.Context) error {
	if e.index == nil {
		return nil
	}
	active, err := e.store.GetAllActiveEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading active embeddings: %v", ErrStorage, err)
	}
	if err := e.index.Rebuild(active.Vectors, active.Labels); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	return nil
}

func (e *Enroller) analyze(ctx context.Context, path string) (collected, error) {
	if !IsImage(path) {
		return collected{}, fmt.Errorf("%w: unsupported file type %q", ErrImageProcessing, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return collected{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	faces, err := e.analyzer.AnalyzeImage(ctx, data)
	if err != nil {
		return collected{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	if len(faces) != 1 {
		return collected{}, fmt.Errorf("%w: found %d", ErrFaceCount, len(faces))
	}

	emb, err := database.Normalize(faces[0].Embedding)
	if err != nil {
		return collected{}, fmt.Errorf("%w: %v", ErrImageProcessing, err)
	}
	quality := faces[0].DetScore
	if quality < 0 || quality > 1 {
		quality = defaultQuality
	}
	return collected{path: path, embedding: emb, quality: quality}, nil
}

// IsImage reports whether path has an accepted image extension.
func IsImage(path string) bool {
	return slices.Contains(allowedExtensions, strings.ToLower(filepath.Ext(path)))
}

// CollectImages expands directories into the images they contain. Plain
// files are kept as given.
func CollectImages(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageProcessing, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrImageProcessing, p, err)
		}
		var files []string
		for _, entry := range entries {
			if !entry.IsDir() && IsImage(entry.Name()) {
				files = append(files, filepath.Join(p, entry.Name()))
			}
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}
