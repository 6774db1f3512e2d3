package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/auth"
	"github.com/birdnest/apiserver/internal/services"
	"github.com/birdnest/apiserver/types"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const dateLayout = "2006-01-02"

// UserHandler serves the account, session and follow endpoints.
type UserHandler struct {
	accounts *services.AccountService
	follows  *services.FollowService
	logger   *slog.Logger
}

func NewUserHandler(accounts *services.AccountService, follows *services.FollowService, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{accounts: accounts, follows: follows, logger: logger}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler, authz *auth.Authorizer) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/oauth/google", h.LoginWithGoogle)
	r.Post("/forgot-password", h.ForgotPassword)

	r.With(authz.Middleware(auth.ModeRefreshToken)).Post("/refresh-token", h.RefreshToken)
	r.With(authz.Middleware(auth.ModeAccessAndRefreshToken)).Post("/logout", h.Logout)
	r.With(authz.Middleware(auth.ModeVerifyEmailToken)).Post("/verify-email", h.VerifyEmail)
	r.With(authz.Middleware(auth.ModeAccessToken)).Post("/resend-verify-email", h.ResendVerifyEmail)
	r.With(authz.Middleware(auth.ModeForgotPasswordToken)).Post("/verify-forgot-password", h.VerifyForgotPassword)
	r.With(authz.Middleware(auth.ModeForgotPasswordToken)).Post("/reset-password", h.ResetPassword)

	r.With(authz.Middleware(auth.ModeAccessToken)).Get("/me", h.GetMe)
	r.With(authz.Middleware(auth.ModeVerifiedUser)).Patch("/me", h.UpdateMe)
	r.With(authz.Middleware(auth.ModeVerifiedUser)).Put("/change-password", h.ChangePassword)

	r.With(authz.Middleware(auth.ModeVerifiedUser)).Post("/follow", h.Follow)
	r.With(authz.Middleware(auth.ModeVerifiedUser)).Delete("/follow/{userID}", h.Unfollow)

	r.With(authz.Middleware(auth.ModeOptionalAccessToken)).Get("/{username}", h.GetProfile)
}

// AuthData is the payload of every endpoint that opens a session.
type AuthData struct {
	types.TokenPair
	User *types.User `json:"user,omitempty"`
}

type RegisterRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	DateOfBirth     string `json:"date_of_birth"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Username, validation.Required, validation.Length(1, 40), validation.Match(usernamePattern)),
		validation.Field(&r.Name, validation.Length(0, 60)),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(equalTo(r.Password, "password"))),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 50)),
	)
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(equalTo(r.Password, "password"))),
	)
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required, validation.Length(0, 50)),
		validation.Field(&r.NewPassword, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(equalTo(r.NewPassword, "new_password"))),
	)
}

// UpdateMeRequest is a partial profile update; absent fields are kept.
type UpdateMeRequest struct {
	Name        *string `json:"name"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	Website     *string `json:"website"`
	Avatar      *string `json:"avatar"`
	Cover       *string `json:"cover"`
	DateOfBirth *string `json:"date_of_birth"`
}

func (r UpdateMeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 60)),
		validation.Field(&r.Bio, validation.Length(0, 200)),
		validation.Field(&r.Location, validation.Length(0, 100)),
		validation.Field(&r.Website, validation.Length(0, 100), is.URL),
		validation.Field(&r.Avatar, validation.Length(0, 200)),
		validation.Field(&r.Cover, validation.Length(0, 200)),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
	)
}

func (r UpdateMeRequest) patch() types.ProfileUpdate {
	p := types.ProfileUpdate{
		Name:     r.Name,
		Bio:      r.Bio,
		Location: r.Location,
		Website:  r.Website,
		Avatar:   r.Avatar,
		Cover:    r.Cover,
	}
	if r.DateOfBirth != nil && *r.DateOfBirth != "" {
		if dob, err := time.Parse(dateLayout, *r.DateOfBirth); err == nil {
			p.DateOfBirth = &dob
		}
	}
	return p
}

type FollowRequest struct {
	FollowedUserID string `json:"followed_user_id"`
}

func (r FollowRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FollowedUserID, validation.Required, is.UUID),
	)
}

// Register creates an unverified account and opens its first session.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}

	in := services.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
	}
	if req.DateOfBirth != "" {
		dob, _ := time.Parse(dateLayout, req.DateOfBirth)
		in.DateOfBirth = &dob
	}

	res, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusCreated, detailUserCreated, AuthData{TokenPair: res.Tokens, User: &res.User})
}

// Login checks credentials. A failed login is a 401 with a fixed detail that
// does not tell unknown emails from wrong passwords.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}

	res, ok, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if !ok {
		apperr.WriteJSON(w, http.StatusUnauthorized, apperr.Response{
			Message: http.StatusText(http.StatusUnauthorized),
			Detail:  apperr.MessageLoginFail,
		})
		return
	}
	respond(w, http.StatusOK, detailLoginSuccess, AuthData{TokenPair: res.Tokens, User: &res.User})
}

// LoginWithGoogle completes the Google OAuth redirect.
func (h *UserHandler) LoginWithGoogle(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		apperr.Write(w, h.logger, apperr.Validation(map[string]string{"code": "cannot be blank"}, nil))
		return
	}

	res, created, err := h.accounts.LoginWithGoogle(r.Context(), code)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	status, detail := http.StatusOK, detailLoginSuccess
	if created {
		status, detail = http.StatusCreated, detailUserCreated
	}
	respond(w, status, detail, AuthData{TokenPair: res.Tokens, User: &res.User})
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	pair, err := h.accounts.Refresh(r.Context(), authorization(r))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailRefreshSuccess, AuthData{TokenPair: pair})
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), authorization(r).RefreshToken); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailLogoutSuccess, nil)
}

func (h *UserHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.VerifyEmail(r.Context(), authorization(r).UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if res.AlreadyVerified {
		respond(w, http.StatusOK, apperr.MessageAlreadyVerified, nil)
		return
	}
	respond(w, http.StatusOK, detailEmailVerified, AuthData{TokenPair: res.Tokens})
}

func (h *UserHandler) ResendVerifyEmail(w http.ResponseWriter, r *http.Request) {
	sent, err := h.accounts.ResendVerifyEmail(r.Context(), authorization(r).UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if !sent {
		respond(w, http.StatusOK, apperr.MessageAlreadyVerified, nil)
		return
	}
	respond(w, http.StatusOK, detailVerifyEmailResent, nil)
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailCheckEmailToReset, nil)
}

// VerifyForgotPassword only runs the middleware check, so a client can
// validate a reset link before showing the form.
func (h *UserHandler) VerifyForgotPassword(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, detailForgotTokenValid, nil)
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), authorization(r).UserID, req.Password); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailPasswordReset, nil)
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetMe(r.Context(), authorization(r).UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "", user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	user, err := h.accounts.UpdateMe(r.Context(), authorization(r).UserID, req.patch())
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "", user)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	err := h.accounts.ChangePassword(r.Context(), authorization(r).UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailPasswordChanged, nil)
}

// GetProfile returns a public profile. Relationship flags are included when
// the caller is signed in as another account.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	profile, err := h.accounts.GetProfile(r.Context(), username, authorization(r).UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "", profile)
}

func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	var req FollowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	req.FollowedUserID = strings.TrimSpace(req.FollowedUserID)
	if err := validationError(req.Validate()); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}

	created, err := h.follows.Follow(r.Context(), authorization(r).UserID, req.FollowedUserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if !created {
		respond(w, http.StatusOK, detailAlreadyFollowed, nil)
		return
	}
	respond(w, http.StatusCreated, detailFollowed, nil)
}

func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userID")
	if err := validation.Validate(targetID, validation.Required, is.UUID); err != nil {
		apperr.Write(w, h.logger, apperr.Validation(map[string]string{"user_id": err.Error()}, err))
		return
	}
	if err := h.follows.Unfollow(r.Context(), authorization(r).UserID, targetID); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, detailUnfollowed, nil)
}
