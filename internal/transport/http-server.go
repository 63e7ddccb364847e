package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/linkstash-io/linkstash-back/internal/config"
	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/service"
	"github.com/linkstash-io/linkstash-back/internal/session"
)

type (
	CredentialsReq struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=12"`
	}

	LinkListReq struct {
		CategoryID *string `json:"categoryId"`
		PageSize   int     `json:"pageSize"`
		Cursor     string  `json:"cursor"`
	}

	LinkListResp struct {
		Items      []LinkResp `json:"items"`
		NextCursor *string    `json:"nextCursor"`
	}

	LinkCreateReq struct {
		URL        string  `json:"url" validate:"required"`
		Title      *string `json:"title"`
		CategoryID *string `json:"categoryId"`
	}

	// LinkUpdateReq is a partial update: absent fields stay untouched, and
	// an explicit empty categoryId moves the link to "uncategorized".
	LinkUpdateReq struct {
		URL        *string `json:"url"`
		Title      *string `json:"title"`
		CategoryID *string `json:"categoryId"`
	}

	LinkResp struct {
		ID         string    `json:"id"`
		URL        string    `json:"url"`
		Title      *string   `json:"title,omitempty"`
		CategoryID *string   `json:"categoryId,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	CategoryReq struct {
		Name string `json:"name" validate:"required"`
	}

	CategoryResp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	CategoryDeleteResp struct {
		CategoryDeleted bool `json:"categoryDeleted"`
		LinksDetached   int  `json:"linksDetached"`
		LinksRemaining  int  `json:"linksRemaining"`
		ChunksCommitted int  `json:"chunksCommitted"`
		ChunksTotal     int  `json:"chunksTotal"`
	}

	CategoryDeleteFailureResp struct {
		Error  string             `json:"error"`
		Report CategoryDeleteResp `json:"report"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		links      *service.Links
		categories *service.Categories
		auth       *service.Auth
		registry   *session.Registry
		logger     *zap.SugaredLogger
	}
)

func NewHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	links *service.Links,
	categories *service.Categories,
	auth *service.Auth,
	registry *session.Registry,
	logger *zap.SugaredLogger,
) *HTTPServer {
	instance := HTTPServer{
		links:      links,
		categories: categories,
		auth:       auth,
		registry:   registry,
		logger:     logger,
	}

	e := NewRouter(&instance)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

func NewRouter(s *HTTPServer) *echo.Echo {
	e := echo.New()

	e.POST("/auth/register", s.Register)
	e.POST("/auth/login", s.Login)
	e.POST("/auth/logout", s.Logout)

	linkG := e.Group("/link")
	linkG.POST("/list", s.LinkList)
	linkG.POST("", s.LinkCreate)
	linkG.PATCH("/:id", s.LinkUpdate)
	linkG.DELETE("/:id", s.LinkDelete)

	categoryG := e.Group("/category")
	categoryG.GET("", s.CategoryList)
	categoryG.POST("", s.CategoryCreate)
	categoryG.PATCH("/:id", s.CategoryUpdate)
	categoryG.DELETE("/:id", s.CategoryDelete)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyDump(func(c echo.Context, reqBody, resBody []byte) {
		if len(reqBody) == 0 {
			return
		}
		s.logger.Debugw("request body", "path", c.Path(), "body", string(censorBody(reqBody)))
	}))

	e.Use(s.AuthMiddleware)

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	return e
}

func (s *HTTPServer) Register(c echo.Context) error {
	req := CredentialsReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	token, err := s.auth.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}

	resp := struct {
		Token string `json:"token"`
	}{
		Token: token,
	}
	return c.JSON(http.StatusOK, &resp)
}

func (s *HTTPServer) Login(c echo.Context) error {
	req := CredentialsReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	token, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}

	resp := struct {
		Token string `json:"token"`
	}{
		Token: token,
	}
	return c.JSON(http.StatusOK, &resp)
}

func (s *HTTPServer) Logout(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.auth.Logout(c.Request().Context(), user); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) LinkList(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := LinkListReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	cursor, err := service.DecodeCursor(req.Cursor)
	if err != nil {
		return httpError(err)
	}

	page, err := s.links.List(c.Request().Context(), user.ID, service.LinkListOpts{
		CategoryID: req.CategoryID,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	})
	if err != nil {
		return httpError(err)
	}

	resp := LinkListResp{
		Items: make([]LinkResp, len(page.Items)),
	}
	for i := range page.Items {
		resp.Items[i] = linkResp(&page.Items[i])
	}
	if page.NextCursor != nil {
		token := page.NextCursor.Encode()
		resp.NextCursor = &token
	}
	return c.JSON(http.StatusOK, &resp)
}

func (s *HTTPServer) LinkCreate(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := LinkCreateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.links.Create(c.Request().Context(), user.ID, req.URL, req.Title, req.CategoryID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, linkResp(model))
}

func (s *HTTPServer) LinkUpdate(c echo.Context) error {
	id, err := GetParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := LinkUpdateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	upd := service.LinkUpdate{
		URL:   req.URL,
		Title: req.Title,
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			upd.ClearCategory = true
		} else {
			upd.CategoryID = req.CategoryID
		}
	}

	model, err := s.links.Update(c.Request().Context(), user.ID, id, upd)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, linkResp(model))
}

func (s *HTTPServer) LinkDelete(c echo.Context) error {
	id, err := GetParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.links.Delete(c.Request().Context(), user.ID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) CategoryList(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	cats, err := s.categories.List(c.Request().Context(), user.ID)
	if err != nil {
		return httpError(err)
	}

	resp := make([]CategoryResp, len(cats))
	for i := range cats {
		resp[i] = CategoryResp{
			ID:   cats[i].ID,
			Name: cats[i].Name,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) CategoryCreate(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := CategoryReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.categories.Create(c.Request().Context(), user.ID, req.Name)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, CategoryResp{
		ID:   model.ID,
		Name: model.Name,
	})
}

func (s *HTTPServer) CategoryUpdate(c echo.Context) error {
	id, err := GetParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := CategoryReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.categories.Update(c.Request().Context(), user.ID, id, req.Name)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, CategoryResp{
		ID:   model.ID,
		Name: model.Name,
	})
}

func (s *HTTPServer) CategoryDelete(c echo.Context) error {
	id, err := GetParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	report, err := s.categories.Delete(c.Request().Context(), user.ID, id)
	if err != nil {
		if report != nil {
			// chunked path stopped partway: the caller gets the exact
			// progress, not a bare error
			return c.JSON(http.StatusInternalServerError, &CategoryDeleteFailureResp{
				Error:  err.Error(),
				Report: detachResp(report),
			})
		}
		return httpError(err)
	}

	return c.JSON(http.StatusOK, detachResp(report))
}

func (s *HTTPServer) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == "/auth/register" || c.Path() == "/auth/login" || c.Path() == "/ping" {
			return next(c)
		}
		token := ""
		for key, values := range c.Request().Header {
			if strings.ToLower(key) == "x-token" {
				token = values[0]
				break
			}
		}
		if token == "" {
			return c.NoContent(http.StatusUnauthorized)
		}

		if u, ok := s.registry.Lookup(token); ok {
			c.Set("user", &db.User{ID: u.ID, Email: u.Email, Token: token})
			return next(c)
		}

		user, err := s.auth.FindByToken(c.Request().Context(), token)
		if err != nil {
			c.Logger().Error(errors.Wrap(err, "find user by token"))
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("user", user)
		return next(c)
	}
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetUserFromContext(c echo.Context) (*db.User, error) {
	user, _ := c.Get("user").(*db.User)
	if user == nil {
		return nil, errors.New("no user found in context")
	}
	return user, nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func httpError(err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	if errors.Is(err, service.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, service.ErrLoginUserNotFound) || errors.Is(err, service.ErrLoginPasswordDoesNotMatch) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	// store failures keep their message instead of the default handler's
	// generic body
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func linkResp(l *db.Link) LinkResp {
	return LinkResp{
		ID:         l.ID,
		URL:        l.URL,
		Title:      l.Title,
		CategoryID: l.CategoryID,
		CreatedAt:  l.CreatedAt,
	}
}

func detachResp(r *service.DetachReport) CategoryDeleteResp {
	return CategoryDeleteResp{
		CategoryDeleted: r.CategoryDeleted,
		LinksDetached:   r.Detached,
		LinksRemaining:  r.Remaining,
		ChunksCommitted: r.ChunksCommitted,
		ChunksTotal:     r.ChunksTotal,
	}
}

func censorBody(b []byte) []byte {
	body := map[string]interface{}{}
	if err := json.Unmarshal(b, &body); err != nil {
		return b
	}
	if _, ok := body["password"]; ok {
		body["password"] = "$censored"
	}
	censored, err := json.Marshal(body)
	if err != nil {
		return b
	}
	return censored
}
