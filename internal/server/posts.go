package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/posts"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// pageParams reads limit and offset, defaulting to 50 and 0.
func pageParams(c echo.Context) (int, int) {
	limit, offset := 50, 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

func (s *Server) listPosts(c echo.Context) error {
	limit, offset := pageParams(c)
	f := storage.PostFilter{
		Status:     models.PostStatus(c.QueryParam("status")),
		CampaignID: c.QueryParam("campaignId"),
		Platform:   models.Platform(c.QueryParam("platform")),
		Limit:      limit,
		Offset:     offset,
	}
	list, err := s.posts.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"posts":  list,
		"count":  len(list),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) createPost(c echo.Context) error {
	var in posts.CreateInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	p, err := s.posts.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) getPost(c echo.Context) error {
	p, err := s.posts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) updatePost(c echo.Context) error {
	var in posts.UpdateInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	p, err := s.posts.Update(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// deletePost answers 204 on the first delete and 200 with
// already_deleted on repeats.
func (s *Server) deletePost(c echo.Context) error {
	already, err := s.posts.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if already {
		return c.JSON(http.StatusOK, map[string]string{"status": "already_deleted"})
	}
	return c.NoContent(http.StatusNoContent)
}

type publishResponse struct {
	Post   *models.Post     `json:"post"`
	Result publisher.Result `json:"result"`
}

func (s *Server) publishPost(c echo.Context) error {
	p, res, err := s.posts.Publish(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	return c.JSON(code, publishResponse{Post: p, Result: res})
}

func (s *Server) listCampaigns(c echo.Context) error {
	list, err := s.posts.ListCampaigns(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createCampaign(c echo.Context) error {
	var in posts.CampaignInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	camp, err := s.posts.CreateCampaign(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, camp)
}

func (s *Server) getCampaign(c echo.Context) error {
	camp, err := s.posts.GetCampaign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}

func (s *Server) updateCampaign(c echo.Context) error {
	var in posts.CampaignInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	camp, err := s.posts.UpdateCampaign(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}

func (s *Server) deleteCampaign(c echo.Context) error {
	if err := s.posts.DeleteCampaign(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) campaignPosts(c echo.Context) error {
	list, err := s.posts.CampaignPosts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) launchCampaign(c echo.Context) error {
	sum, err := s.posts.LaunchCampaign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) pauseCampaign(c echo.Context) error {
	camp, err := s.posts.PauseCampaign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, camp)
}
