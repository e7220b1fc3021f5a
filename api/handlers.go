package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

const postTransitionMaxSize = 256 * 1024

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/board", getBoard(store, auth, logger))
	e.GET("/api/calendar", getCalendar(store, auth))
	e.POST("/api/transitions", postTransitions(store, auth, deduper), GzipRequestMiddleware())
	e.GET("/healthz", healthz(store))

	initTransitionSender(store, deduper, logger)
}

type stageInfo struct {
	Stage  domain.Stage  `json:"stage"`
	Layout domain.Layout `json:"layout"`
}

type boardResponse struct {
	Orders []domain.Order `json:"orders"`
	Stages []stageInfo    `json:"stages"`
}

type calendarResponse struct {
	Today   string           `json:"today"`
	Columns []workcal.Column `json:"columns"`
	Overdue []domain.Order   `json:"overdue"`
}

type postTransitionResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys"`
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		includeHidden := parseBoolParam(c.QueryParam("all"))
		metrics.SetIncludeHidden(includeHidden)

		fetchStart := time.Now()
		orders, fetchErr := store.FetchOrders(ctx, includeHidden)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetOrdersReturned(len(orders))

		stages := domain.VisibleStages()
		if includeHidden {
			stages = domain.Stages()
		}
		resp := boardResponse{Orders: orders, Stages: make([]stageInfo, 0, len(stages))}
		for _, s := range stages {
			l, _ := domain.StageLayout(s)
			resp.Stages = append(resp.Stages, stageInfo{Stage: s, Layout: l})
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getCalendar(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		target := 10
		if v := strings.TrimSpace(c.QueryParam("days")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return c.String(http.StatusBadRequest, "invalid days")
			}
			target = n
		}

		holidays, err := store.FetchHolidays(ctx)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		orders, err := store.FetchOrders(ctx, false)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		now := time.Now()
		today := workcal.EffectiveToday(holidays, now)
		grouped := workcal.GroupByDueDate(orders, holidays, now)
		resp := calendarResponse{
			Today:   workcal.DateKey(today),
			Columns: workcal.Columns(today, workcal.DefaultHorizonDays, target, holidays, grouped, now),
			Overdue: workcal.Overdue(orders, holidays, now),
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func postTransitions(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, postTransitionMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]domain.Command, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(cmds) == 0 {
			return c.String(http.StatusBadRequest, "empty command batch")
		}
		for _, cmd := range cmds {
			if cmd.OrderID == "" {
				return c.String(http.StatusBadRequest, "missing order id")
			}
			// The overlay is a projection, never a destination; the stage
			// ordering itself constrains nothing.
			if domain.IsOverlay(cmd.ToStage) || !domain.IsStage(cmd.ToStage) {
				return c.String(http.StatusBadRequest, "invalid target stage")
			}
			if cmd.FromStage != "" && !domain.IsStage(cmd.FromStage) {
				return c.String(http.StatusBadRequest, "invalid source stage")
			}
		}

		accepted := make([]domain.Command, 0, len(cmds))
		keys := make([]string, 0, len(cmds))
		added := make([]string, 0, len(cmds))
		for i := range cmds {
			if cmds[i].IdempotencyKey == "" {
				cmds[i].IdempotencyKey = uuid.NewString()
			}
			if deduper != nil {
				fresh, derr := deduper.Add(c.Request().Context(), userID, cmds[i].IdempotencyKey)
				if derr != nil {
					c.Logger().Errorf("dedupe: %v", derr)
					return c.String(http.StatusInternalServerError, "failed to record command")
				}
				if !fresh {
					keys = append(keys, cmds[i].IdempotencyKey)
					continue
				}
				added = append(added, cmds[i].IdempotencyKey)
			}
			cmds[i].ID = cmds[i].IdempotencyKey
			cmds[i].Timestamp = nextTimestamp()
			keys = append(keys, cmds[i].IdempotencyKey)
			accepted = append(accepted, cmds[i])
		}

		if len(accepted) == 0 {
			// Every command in the batch was a replay.
			return c.JSON(http.StatusAccepted, postTransitionResponse{IdempotencyKeys: keys})
		}

		job := enqueueJob{
			userID: userID,
			cmds:   accepted,
			added:  added,
		}

		if tryEnqueueJob(job) {
			return c.JSON(http.StatusAccepted, postTransitionResponse{IdempotencyKeys: keys})
		}

		if globalLog != nil {
			globalLog.Warn("enqueue buffer saturated; processing inline")
		}

		enqueueCtx, cancel := context.WithTimeout(bg, enqueueTimeout)
		enqueueErr := store.EnqueueTransitions(enqueueCtx, userID, job.cmds)
		cancel()

		if enqueueErr != nil {
			if deduper != nil {
				for _, k := range job.added {
					_ = deduper.Remove(bg, userID, k)
				}
			}
			c.Logger().Errorf("enqueue inline failed: %v", enqueueErr)
			return c.String(http.StatusInternalServerError, "failed to enqueue transitions")
		}

		return c.JSON(http.StatusAccepted, postTransitionResponse{IdempotencyKeys: keys})
	}
}

func parseBoolParam(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
