package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/storage"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/types"
	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 5 << 20

// ImageKind selects which profile field an upload replaces.
type ImageKind string

const (
	ImageAvatar ImageKind = "avatar"
	ImageCover  ImageKind = "cover"
)

func (k ImageKind) Valid() bool {
	return k == ImageAvatar || k == ImageCover
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectStore is the storage the media service writes to. *storage.Storage
// implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// MediaService stores profile images and links them to accounts.
type MediaService struct {
	tx         Transactor
	stores     store.Manager
	objects    ObjectStore
	publicBase string
	logger     *slog.Logger
}

func NewMediaService(tx Transactor, stores store.Manager, objects ObjectStore, publicBaseURL string, logger *slog.Logger) *MediaService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaService{
		tx:         tx,
		stores:     stores,
		objects:    objects,
		publicBase: strings.TrimRight(publicBaseURL, "/"),
		logger:     logger,
	}
}

// UploadImage stores r as the account's avatar or cover. The content type is
// sniffed from the data; the declared one is ignored. The image it replaces
// is deleted when it was stored here.
func (s *MediaService) UploadImage(ctx context.Context, userID string, kind ImageKind, r io.Reader, size int64) (types.Media, error) {
	if !kind.Valid() {
		return types.Media{}, apperr.Validation(map[string]string{"kind": "must be avatar or cover"}, nil)
	}
	if size > MaxImageSize {
		return types.Media{}, apperr.Validation(map[string]string{"image": "must be at most 5 MiB"}, nil)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return types.Media{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return types.Media{}, apperr.New(apperr.UnsupportedMediaType)
	}

	name := fmt.Sprintf("%s/%s%s", userID, uuid.NewString(), ext)
	key := "images/" + name
	body := io.MultiReader(bytes.NewReader(head), r)
	if err := s.objects.Put(ctx, key, body, size, contentType); err != nil {
		return types.Media{}, fmt.Errorf("store image: %w", err)
	}

	users := s.stores.Users(s.tx.Conn())
	before, err := users.GetByID(ctx, userID)
	if err != nil {
		return types.Media{}, notFound(err)
	}

	media := types.Media{URL: s.publicBase + "/" + name, Type: types.MediaTypeImage}
	var patch types.ProfileUpdate
	previous := before.Avatar
	if kind == ImageAvatar {
		patch.Avatar = &media.URL
	} else {
		patch.Cover = &media.URL
		previous = before.Cover
	}
	if _, err := users.UpdateProfile(ctx, userID, patch); err != nil {
		return types.Media{}, notFound(err)
	}

	if old, ok := s.objectKey(previous); ok {
		if err := s.objects.Delete(ctx, old); err != nil {
			s.logger.Warn("delete replaced image", "key", old, "error", err)
		}
	}
	return media, nil
}

// objectKey maps a URL produced by UploadImage back to its storage key.
func (s *MediaService) objectKey(url string) (string, bool) {
	name, ok := strings.CutPrefix(url, s.publicBase+"/")
	if !ok || name == "" || strings.Contains(name, "..") {
		return "", false
	}
	return "images/" + name, true
}

// GetImage opens the image stored under name, as produced by UploadImage.
func (s *MediaService) GetImage(ctx context.Context, name string) (storage.Object, error) {
	clean := path.Clean("/" + name)
	if clean == "/" || strings.Contains(name, "..") {
		return storage.Object{}, apperr.New(apperr.MediaNotFound)
	}
	obj, err := s.objects.Get(ctx, "images"+clean)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Object{}, apperr.Wrap(apperr.MediaNotFound, err)
		}
		return storage.Object{}, err
	}
	return obj, nil
}
