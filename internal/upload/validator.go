// Package upload turns an untrusted file upload into a stored asset whose type
// has been verified from its bytes.
//
// The chain is: extension allow-list, declared size cap, declared content-type
// cross-check, provisional write under a collision-resistant name, content
// sniffing of the written bytes, and verification of the sniffed type. Every
// failing exit deletes the provisional file.
package upload

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/clock"
	"github.com/spec-kit/rmf-intake/internal/storage"
)

// DefaultMaxBytes is the upload size cap.
const DefaultMaxBytes int64 = 5_000_000

// sniffLen is how many leading bytes the matcher needs.
const sniffLen = 262

// Reason names why a file was rejected. The values are part of the API.
type Reason string

const (
	ReasonInvalidFormat       Reason = "InvalidFormat"
	ReasonTooLarge            Reason = "TooLarge"
	ReasonMimeMismatch        Reason = "MimeMismatch"
	ReasonContentMismatch     Reason = "ContentMismatch"
	ReasonUnrecognizedContent Reason = "UnrecognizedContent"
)

// RejectedError reports a file that failed validation. Message is safe to
// return to the caller.
type RejectedError struct {
	Reason  Reason
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upload rejected (%s): %s", e.Reason, e.Message)
}

// IsRejected unwraps err into a RejectedError.
func IsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}

// allowedTypes maps each accepted extension to the MIME types it may carry.
var allowedTypes = map[string][]string{
	".jpg":  {"image/jpeg", "image/pjpeg"},
	".jpeg": {"image/jpeg", "image/pjpeg"},
	".png":  {"image/png"},
}

// File is an incoming upload as declared by the client.
type File struct {
	Filename    string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Result describes an asset that passed every check.
type Result struct {
	StoredName  string
	ContentType string
	SizeBytes   int64
	Digest      string
}

// Validator runs the trust chain against an AssetStore.
type Validator struct {
	store    storage.AssetStore
	clock    clock.Clock
	logger   *zap.Logger
	maxBytes int64
	newID    func() string
}

// Option customizes a Validator.
type Option func(*Validator)

// WithMaxBytes overrides the size cap.
func WithMaxBytes(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxBytes = n
		}
	}
}

// WithClock sets the clock used for the filename timestamp.
func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator builds a Validator writing into store.
func NewValidator(store storage.AssetStore, opts ...Option) *Validator {
	v := &Validator{
		store:    store,
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		maxBytes: DefaultMaxBytes,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxBytes returns the configured size cap.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate runs the chain and returns the stored asset, a *RejectedError, or
// an internal error. No file survives a non-nil error.
func (v *Validator) Validate(ctx context.Context, file File) (_ *Result, err error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	allowed, ok := allowedTypes[ext]
	if !ok {
		return nil, v.reject(file, ReasonInvalidFormat, "only .jpg, .jpeg and .png files are accepted")
	}
	if file.Size > v.maxBytes {
		return nil, v.reject(file, ReasonTooLarge, fmt.Sprintf("file exceeds the %d byte limit", v.maxBytes))
	}
	if declared := strings.TrimSpace(file.ContentType); declared != "" {
		if !containsMIME(allowed, declared) {
			return nil, v.reject(file, ReasonMimeMismatch, fmt.Sprintf("declared content type does not match %s", ext))
		}
	}
	if file.Body == nil {
		return nil, errors.New("upload body missing")
	}

	name := fmt.Sprintf("%d-%s%s", v.clock.Now().UnixMilli(), v.newID(), ext)

	// From here on a file may exist; anything but success removes it.
	kept := false
	defer func() {
		if kept {
			return
		}
		if delErr := v.store.Delete(context.WithoutCancel(ctx), name); delErr != nil {
			v.logger.Error("failed to remove rejected upload", zap.String("stored_name", name), zap.Error(delErr))
		}
	}()

	hasher := blake3.New()
	limited := &limitReader{r: io.TeeReader(file.Body, hasher), remaining: v.maxBytes}
	written, err := v.store.Save(ctx, name, limited)
	if err != nil {
		if limited.exceeded {
			return nil, v.reject(file, ReasonTooLarge, fmt.Sprintf("file exceeds the %d byte limit", v.maxBytes))
		}
		return nil, fmt.Errorf("store upload: %w", err)
	}

	sniffedExt, sniffedMIME, err := v.sniff(ctx, name)
	if err != nil {
		return nil, err
	}
	if sniffedExt == "" {
		return nil, v.reject(file, ReasonUnrecognizedContent, "file content is not a recognizable image")
	}
	sniffedAllowed, ok := allowedTypes[sniffedExt]
	if !ok || !containsMIME(sniffedAllowed, sniffedMIME) || !sameFamily(ext, sniffedExt) {
		return nil, v.reject(file, ReasonContentMismatch, fmt.Sprintf("file content does not match %s", ext))
	}

	kept = true
	return &Result{
		StoredName:  name,
		ContentType: sniffedMIME,
		SizeBytes:   written,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// sniff reads the head of the stored file and identifies it from its magic
// bytes. An empty extension means the type could not be determined.
func (v *Validator) sniff(ctx context.Context, name string) (ext, mimeType string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sniff %s: panic: %v", name, r)
		}
	}()

	rc, err := v.store.Open(ctx, name)
	if err != nil {
		return "", "", fmt.Errorf("reopen upload: %w", err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("read upload head: %w", err)
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return "", "", nil
	}
	return "." + strings.ToLower(kind.Extension), strings.ToLower(kind.MIME.Value), nil
}

func (v *Validator) reject(file File, reason Reason, message string) error {
	v.logger.Info("upload rejected",
		zap.String("reason", string(reason)),
		zap.String("filename", file.Filename),
		zap.Int64("declared_size", file.Size),
		zap.String("declared_type", file.ContentType))
	return &RejectedError{Reason: reason, Message: message}
}

func containsMIME(allowed []string, declared string) bool {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = declared
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, candidate := range allowed {
		if candidate == mediaType {
			return true
		}
	}
	return false
}

// sameFamily treats .jpg and .jpeg as the same format.
func sameFamily(a, b string) bool {
	canonical := func(ext string) string {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}
	return canonical(a) == canonical(b)
}

// limitReader fails once more than remaining bytes have been read, so a
// client that under-declares its size is still capped.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

var errLimitExceeded = errors.New("upload exceeds size limit")

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, errLimitExceeded
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errLimitExceeded
	}
	return n, err
}
