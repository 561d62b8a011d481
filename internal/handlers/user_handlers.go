package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/apierror"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/middleware"
	"github.com/lupohub/lupohub/internal/models"
)

const userColumns = "id, name, email, password_hash, role, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// --- Login ---

type LoginInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks the credentials and issues an access token.
func (h *Handlers) Login(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Bind ---
	var input LoginInput
	if !bindJSON(c, &input) {
		return
	}

	// 2. --- Find User ---
	var u models.User
	err := h.Store.Get(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?",
		[]any{strings.TrimSpace(input.Email)},
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, apierror.New("Usuario no encontrado"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Check Password ---
	pw := models.Password{Hash: u.PasswordHash}
	ok, err := pw.Matches(input.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, apierror.New("Contraseña incorrecta"))
		return
	}

	// 4. --- Upgrade Legacy Password ---
	if pw.IsLegacy() {
		var upgraded models.Password
		if err := upgraded.Set(input.Password); err == nil {
			if _, err := h.Store.Execute(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", upgraded.Hash, u.ID); err != nil {
				log.Warn().Err(err).Int64("user_id", u.ID).Msg("could not rehash legacy password")
			} else {
				log.Info().Int64("user_id", u.ID).Msg("legacy password rehashed")
			}
		}
	}

	// 5. --- Issue Token ---
	token, err := h.Tokens.GenerateToken(u.ID, u.Email, u.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
}

// Me returns the authenticated user.
func (h *Handlers) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New(apierror.MsgUnauthorized))
		return
	}
	var u models.User
	err := h.Store.Get(c.Request.Context(), "SELECT "+userColumns+" FROM users WHERE id = ?",
		[]any{claims.UserID},
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// --- Users (admin) ---

// ListUsers lists accounts, optionally filtered by ?role=.
func (h *Handlers) ListUsers(c *gin.Context) {
	query := "SELECT " + userColumns + " FROM users"
	args := []any{}
	if role := c.Query("role"); role != "" {
		query += " WHERE role = ?"
		args = append(args, role)
	}
	query += " ORDER BY name"

	users, err := database.Select(c.Request.Context(), h.Store, query, args, func(rows *sql.Rows) (models.User, error) {
		return scanUser(rows)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type CreateUserInput struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin vendedor deposito"`
}

// CreateUser adds a seller, warehouse or admin account.
func (h *Handlers) CreateUser(c *gin.Context) {
	// 1. --- Bind ---
	var input CreateUserInput
	if !bindJSON(c, &input) {
		return
	}

	// 2. --- Hash Password ---
	var pw models.Password
	if err := pw.Set(input.Password); err != nil {
		respondError(c, err)
		return
	}

	// 3. --- Insert ---
	res, err := h.Store.Execute(c.Request.Context(),
		"INSERT INTO users (name, email, password_hash, role) VALUES (?, ?, ?, ?)",
		input.Name, strings.TrimSpace(input.Email), pw.Hash, input.Role)
	if database.IsDuplicateKey(err) {
		c.JSON(http.StatusConflict, apierror.New("El email ya está registrado"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	id, _ := res.LastInsertId()

	c.JSON(http.StatusCreated, models.User{ID: id, Name: input.Name, Email: input.Email, Role: input.Role})
}
