package content

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2beens/trifecta/internal/access"
	"github.com/2beens/trifecta/internal/telemetry/tracing"
	"github.com/2beens/trifecta/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// multipart parts above this size are kept in temporary files
const maxMultipartMemory = 8 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

type okResponse struct {
	Ok      int    `json:"ok"`
	Message string `json:"message,omitempty"`
}

type imageResponse struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type postResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Public    bool            `json:"public"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	Images    []imageResponse `json:"images"`
}

func newPostResponse(post *Post, withCreatedAt bool) postResponse {
	resp := postResponse{
		ID:     pkg.MakeShortID(post.ID),
		Title:  post.Title,
		Public: post.IsPublic,
		Images: make([]imageResponse, 0, len(post.Images)),
	}
	if withCreatedAt {
		createdAt := post.CreatedAt
		resp.CreatedAt = &createdAt
	}
	for _, image := range post.Images {
		resp.Images = append(resp.Images, imageResponse{
			ID:      pkg.MakeShortID(image.ID),
			Caption: image.Caption,
		})
	}
	return resp
}

func (h *Handler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/upload", h.handleUpload).Methods("POST").Name("upload")
	mainRouter.HandleFunc("/set-post-title/{postId}", h.handleSetPostTitle).Methods("POST").Name("set-post-title")
	mainRouter.HandleFunc("/set-image-caption/{imageId}", h.handleSetImageCaption).Methods("POST").Name("set-image-caption")
	mainRouter.HandleFunc("/set-post-public/{postId}/{flag}", h.handleSetPostPublic).Methods("POST").Name("set-post-public")
	mainRouter.HandleFunc("/getPost/{postId}", h.handleGetPost).Methods("GET").Name("get-post")
	mainRouter.HandleFunc("/i/{imageId}", h.handleGetImage).Methods("GET").Name("image")
	mainRouter.HandleFunc("/my-posts", h.handleMyPosts).Methods("GET").Name("my-posts")
	mainRouter.HandleFunc("/delete-image/{imageId}", h.handleDeleteImage).Methods("POST").Name("delete-image")
	mainRouter.HandleFunc("/delete-post/{postId}", h.handleDeletePost).Methods("POST").Name("delete-post")
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, ErrNotFound):
		pkg.WriteJSONResponse(w, http.StatusNotFound, okResponse{Ok: 0, Message: "not found"})
	case errors.Is(err, access.ErrForbidden):
		pkg.WriteJSONResponse(w, http.StatusForbidden, okResponse{Ok: 0, Message: "forbidden"})
	case errors.As(err, &maxBytesErr):
		pkg.WriteJSONResponse(w, http.StatusRequestEntityTooLarge, okResponse{Ok: 0, Message: "request too large"})
	case errors.Is(err, ErrMalformedUpload), errors.Is(err, pkg.ErrMalformedRequest):
		pkg.WriteJSONResponse(w, http.StatusBadRequest, okResponse{Ok: 0, Message: err.Error()})
	default:
		log.Errorf("%s: %s", op, err)
		pkg.WriteJSONResponse(w, http.StatusInternalServerError, okResponse{Ok: 0, Message: "internal error"})
	}
}

// pathID decodes a short id path variable. Invalid ids cannot exist, so they are not found.
func pathID(r *http.Request, name string) (uint64, error) {
	id, err := pkg.ParseShortID(mux.Vars(r)[name])
	if err != nil {
		return 0, ErrNotFound
	}
	return id, nil
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.upload")
	defer span.End()

	subject := access.SubjectFromContext(ctx)
	if subject.IsAnonymous() {
		h.writeError(w, "upload", access.ErrForbidden)
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		log.Debugf("upload, parse multipart form: %s", err)
		h.writeError(w, "upload", errors.Join(pkg.ErrMalformedRequest, err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Errorf("upload, remove multipart temp files: %s", err)
		}
	}()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, "upload", errors.Join(pkg.ErrMalformedRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, "upload", errors.Join(ErrMalformedUpload, err))
		return
	}

	postID, _, err := pkg.MultipartFieldValue(r.MultipartForm, "postId")
	if err != nil {
		h.writeError(w, "upload", err)
		return
	}

	result, err := h.service.Ingest(ctx, subject, UploadPart{
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Data:     data,
		PostID:   postID,
	})
	if err != nil {
		h.writeError(w, "upload", err)
		return
	}

	pkg.WriteJSONResponseOK(w, result)
}

func (h *Handler) handleSetPostTitle(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.setPostTitle")
	defer span.End()

	postID, err := pathID(r, "postId")
	if err != nil {
		h.writeError(w, "set post title", err)
		return
	}

	fields, err := pkg.ReadFormFields(r, maxMultipartMemory)
	if err != nil {
		h.writeError(w, "set post title", err)
		return
	}
	title, ok := fields["title"]
	if !ok {
		h.writeError(w, "set post title", errors.Join(pkg.ErrMalformedRequest, errors.New("title missing")))
		return
	}

	if err := h.service.SetPostTitle(ctx, access.SubjectFromContext(ctx), postID, title); err != nil {
		h.writeError(w, "set post title", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleSetImageCaption(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.setImageCaption")
	defer span.End()

	imageID, err := pathID(r, "imageId")
	if err != nil {
		h.writeError(w, "set image caption", err)
		return
	}

	fields, err := pkg.ReadFormFields(r, maxMultipartMemory)
	if err != nil {
		h.writeError(w, "set image caption", err)
		return
	}
	caption, ok := fields["caption"]
	if !ok {
		h.writeError(w, "set image caption", errors.Join(pkg.ErrMalformedRequest, errors.New("caption missing")))
		return
	}

	if err := h.service.SetImageCaption(ctx, access.SubjectFromContext(ctx), imageID, caption); err != nil {
		h.writeError(w, "set image caption", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleSetPostPublic(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.setPostPublic")
	defer span.End()

	postID, err := pathID(r, "postId")
	if err != nil {
		h.writeError(w, "set post public", err)
		return
	}

	var public bool
	switch mux.Vars(r)["flag"] {
	case "0":
		public = false
	case "1":
		public = true
	default:
		h.writeError(w, "set post public", errors.Join(pkg.ErrMalformedRequest, errors.New("flag must be 0 or 1")))
		return
	}

	if err := h.service.SetPostVisibility(ctx, access.SubjectFromContext(ctx), postID, public); err != nil {
		h.writeError(w, "set post public", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.getPost")
	defer span.End()

	postID, err := pathID(r, "postId")
	if err != nil {
		h.writeError(w, "get post", err)
		return
	}

	post, err := h.service.GetPost(ctx, access.SubjectFromContext(ctx), postID)
	if err != nil {
		h.writeError(w, "get post", err)
		return
	}

	pkg.WriteJSONResponseOK(w, newPostResponse(post, false))
}

func (h *Handler) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.getImage")
	defer span.End()

	imageID, err := pathID(r, "imageId")
	if err != nil {
		h.writeError(w, "get image", err)
		return
	}

	image, err := h.service.GetImage(ctx, access.SubjectFromContext(ctx), imageID)
	if err != nil {
		h.writeError(w, "get image", err)
		return
	}

	// visibility can change at any time
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("Content-Disposition", "inline")
	pkg.WriteResponseBytesOK(w, image.MimeType, image.Data)
}

func (h *Handler) handleMyPosts(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.myPosts")
	defer span.End()

	posts, err := h.service.ListPosts(ctx, access.SubjectFromContext(ctx))
	if err != nil {
		h.writeError(w, "my posts", err)
		return
	}

	resp := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		resp = append(resp, newPostResponse(post, true))
	}
	pkg.WriteJSONResponseOK(w, resp)
}

func (h *Handler) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.deleteImage")
	defer span.End()

	imageID, err := pathID(r, "imageId")
	if err != nil {
		h.writeError(w, "delete image", err)
		return
	}

	if err := h.service.DeleteImage(ctx, access.SubjectFromContext(ctx), imageID); err != nil {
		h.writeError(w, "delete image", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}

func (h *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "contentHandler.deletePost")
	defer span.End()

	postID, err := pathID(r, "postId")
	if err != nil {
		h.writeError(w, "delete post", err)
		return
	}

	if err := h.service.DeletePost(ctx, access.SubjectFromContext(ctx), postID); err != nil {
		h.writeError(w, "delete post", err)
		return
	}

	pkg.WriteJSONResponseOK(w, okResponse{Ok: 1})
}
