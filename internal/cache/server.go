package cache

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	hashPathParameter         = "hash"
	slugQueryParameter        = "slug"
	defaultTeamDirectory      = "_default"
	maximumArtifactBytes      = 2 << 30
	artifactServedEvent       = "artifact_served"
	artifactStoredEvent       = "artifact_stored"
	artifactStorageErrorEvent = "artifact_storage_failed"
	teamField                 = "team"
	bytesField                = "bytes"
)

// ServerOptions configures the reference remote cache server.
type ServerOptions struct {
	Directory string
	Token     string
	Logger    *zap.Logger
}

type artifactServer struct {
	directory string
	token     string
	logger    *zap.Logger
}

// NewServerHandler returns an HTTP handler serving GET and PUT /artifacts/{hash}.
// Artifacts are opaque bytes stored per team under the directory; a second PUT for the same
// hash leaves the first artifact in place.
func NewServerHandler(options ServerOptions) http.Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &artifactServer{directory: options.Directory, token: options.Token, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	artifacts := engine.Group("/artifacts", server.authorize)
	artifacts.GET("/:"+hashPathParameter, server.download)
	artifacts.HEAD("/:"+hashPathParameter, server.download)
	artifacts.PUT("/:"+hashPathParameter, server.upload)
	return engine
}

func (server *artifactServer) authorize(requestContext *gin.Context) {
	if len(server.token) == 0 {
		requestContext.Next()
		return
	}
	header := requestContext.GetHeader(authorizationHeader)
	presented := strings.TrimPrefix(header, bearerPrefix)
	if !strings.HasPrefix(header, bearerPrefix) || subtle.ConstantTimeCompare([]byte(presented), []byte(server.token)) != 1 {
		requestContext.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	requestContext.Next()
}

func (server *artifactServer) download(requestContext *gin.Context) {
	artifactPath, pathError := server.artifactPath(requestContext)
	if pathError != nil {
		requestContext.AbortWithStatus(http.StatusBadRequest)
		return
	}
	content, readError := os.ReadFile(artifactPath)
	if errors.Is(readError, fs.ErrNotExist) {
		requestContext.AbortWithStatus(http.StatusNotFound)
		return
	}
	if readError != nil {
		server.logger.Error(artifactStorageErrorEvent, zap.Error(readError))
		requestContext.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.logger.Debug(artifactServedEvent, zap.String(hashField, requestContext.Param(hashPathParameter)), zap.Int(bytesField, len(content)))
	requestContext.Data(http.StatusOK, archiveContentType, content)
}

func (server *artifactServer) upload(requestContext *gin.Context) {
	artifactPath, pathError := server.artifactPath(requestContext)
	if pathError != nil {
		requestContext.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if _, statError := os.Stat(artifactPath); statError == nil {
		requestContext.Status(http.StatusAccepted)
		return
	}

	content, readError := io.ReadAll(io.LimitReader(requestContext.Request.Body, maximumArtifactBytes))
	if readError != nil {
		requestContext.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if storeError := server.store(artifactPath, content); storeError != nil {
		server.logger.Error(artifactStorageErrorEvent, zap.Error(storeError))
		requestContext.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.logger.Info(artifactStoredEvent,
		zap.String(hashField, requestContext.Param(hashPathParameter)),
		zap.String(teamField, server.team(requestContext)),
		zap.Int(bytesField, len(content)),
	)
	requestContext.Status(http.StatusAccepted)
}

func (server *artifactServer) store(artifactPath string, content []byte) error {
	if mkdirError := os.MkdirAll(filepath.Dir(artifactPath), cacheDirectoryMode); mkdirError != nil {
		return mkdirError
	}
	temporaryFile, createError := os.CreateTemp(filepath.Dir(artifactPath), temporaryEntryPattern)
	if createError != nil {
		return createError
	}
	temporaryName := temporaryFile.Name()
	_, writeError := temporaryFile.Write(content)
	if closeError := temporaryFile.Close(); writeError == nil {
		writeError = closeError
	}
	if writeError == nil {
		writeError = os.Rename(temporaryName, artifactPath)
	}
	if writeError != nil {
		_ = os.Remove(temporaryName)
	}
	return writeError
}

func (server *artifactServer) artifactPath(requestContext *gin.Context) (string, error) {
	hash := requestContext.Param(hashPathParameter)
	if !validHash(hash) {
		return "", fmt.Errorf(invalidHashTemplate, hash)
	}
	team := server.team(requestContext)
	if strings.ContainsAny(team, `/\`) || team == "." || team == ".." {
		return "", errors.New("invalid team")
	}
	return filepath.Join(server.directory, team, hash[:hashPrefixLength], hash), nil
}

func (server *artifactServer) team(requestContext *gin.Context) string {
	if team := strings.TrimSpace(requestContext.Query(teamQueryParameter)); len(team) > 0 {
		return team
	}
	if slug := strings.TrimSpace(requestContext.Query(slugQueryParameter)); len(slug) > 0 {
		return slug
	}
	return defaultTeamDirectory
}
