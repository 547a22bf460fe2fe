// Package httpserver fronts the loyalty operation contracts over REST.
// Authentication and request validation beyond the domain's own checks are
// handled upstream.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Run boots the HTTP facade and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service *loyalty.Service, logger *zap.Logger) error {
	router := NewRouter(cfg, service, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loyalty api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine; exported for httptest use.
func NewRouter(cfg Config, service *loyalty.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{service: service, logger: logger}

	api := router.Group("/api")
	api.POST("/customers/:customerID/points/award", handler.handleAward)
	api.POST("/customers/:customerID/points/adjust", handler.handleAdjust)
	api.POST("/customers/:customerID/points/bonus", handler.handleBonus)
	api.GET("/customers/:customerID/balance", handler.handleBalance)
	api.GET("/customers/:customerID/rewards", handler.handleAvailableRewards)
	api.GET("/customers/:customerID/redemptions", handler.handleListRedemptions)
	api.POST("/customers/:customerID/redemptions", handler.handleRedeem)
	api.POST("/redemptions/use", handler.handleUseRedemption)
	api.GET("/transactions", handler.handleListTransactions)
	api.GET("/stats", handler.handleStats)
	api.POST("/sweep", handler.handleSweep)
	api.GET("/program", handler.handleGetProgram)
	api.PUT("/program", handler.handleUpdateProgram)
	api.GET("/rewards", handler.handleListRewards)
	api.POST("/rewards", handler.handleCreateReward)
	api.GET("/rewards/:rewardID", handler.handleGetReward)
	api.PUT("/rewards/:rewardID", handler.handleUpdateReward)
	api.DELETE("/rewards/:rewardID", handler.handleDeleteReward)

	return router
}

type httpHandler struct {
	service *loyalty.Service
	logger  *zap.Logger
}

func (handler *httpHandler) handleAward(ctx *gin.Context) {
	var request awardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	source, err := loyalty.ParsePointSource(request.Source)
	if err != nil {
		respondError(ctx, err)
		return
	}
	transaction, err := handler.service.Award(ctx.Request.Context(), ctx.Param("customerID"), request.Points, source, loyalty.AwardMeta{
		AppointmentID: request.AppointmentID,
		ReferrerID:    request.ReferrerID,
		Description:   request.Description,
		ActorID:       request.ActorID,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, transactionView(transaction))
}

func (handler *httpHandler) handleAdjust(ctx *gin.Context) {
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	transaction, err := handler.service.Adjust(ctx.Request.Context(), ctx.Param("customerID"), request.Delta, request.Reason, request.ActorID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, transactionView(transaction))
}

func (handler *httpHandler) handleBonus(ctx *gin.Context) {
	var request bonusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	transaction, err := handler.service.AwardBonus(ctx.Request.Context(), ctx.Param("customerID"), loyalty.BonusKind(request.Kind), request.ActorID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, transactionView(transaction))
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	balance, err := handler.service.GetBalance(ctx.Request.Context(), ctx.Param("customerID"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceView(balance))
}

func (handler *httpHandler) handleAvailableRewards(ctx *gin.Context) {
	rewards, err := handler.service.ListAvailableRewards(ctx.Request.Context(), ctx.Param("customerID"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	views := make([]rewardPayload, 0, len(rewards))
	for _, reward := range rewards {
		views = append(views, rewardView(reward))
	}
	ctx.JSON(http.StatusOK, views)
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	redemption, err := handler.service.Redeem(ctx.Request.Context(), ctx.Param("customerID"), request.RewardID, request.ActorID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, redemptionView(redemption))
}

func (handler *httpHandler) handleUseRedemption(ctx *gin.Context) {
	var request useRedemptionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.Code == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	redemption, err := handler.service.UseRedemption(ctx.Request.Context(), request.Code, request.AppointmentID, request.ActorID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, redemptionView(redemption))
}

func (handler *httpHandler) handleListRedemptions(ctx *gin.Context) {
	redemptions, err := handler.service.ListRedemptions(ctx.Request.Context(), ctx.Param("customerID"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	views := make([]redemptionResponse, 0, len(redemptions))
	for _, redemption := range redemptions {
		views = append(views, redemptionView(redemption))
	}
	ctx.JSON(http.StatusOK, views)
}

func (handler *httpHandler) handleListTransactions(ctx *gin.Context) {
	filter := loyalty.TransactionFilter{
		CustomerID: ctx.Query("customerId"),
		Limit:      queryInt(ctx, "limit"),
		Offset:     queryInt(ctx, "offset"),
	}
	if raw := ctx.Query("kind"); raw != "" {
		kind, err := loyalty.ParseTransactionKind(raw)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Kind = kind
	}
	if raw := ctx.Query("source"); raw != "" {
		source, err := loyalty.ParsePointSource(raw)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Source = source
	}
	page, err := handler.service.ListTransactions(ctx.Request.Context(), filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	views := make([]transactionResponse, 0, len(page.Data))
	for _, transaction := range page.Data {
		views = append(views, transactionView(transaction))
	}
	ctx.JSON(http.StatusOK, transactionPageResponse{Data: views, Total: page.Total})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	stats, err := handler.service.GetStats(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, statsResponse(stats))
}

func (handler *httpHandler) handleSweep(ctx *gin.Context) {
	pointsExpired, err := handler.service.SweepExpired(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sweepResponse{PointsExpired: pointsExpired})
}

func (handler *httpHandler) handleGetProgram(ctx *gin.Context) {
	config, err := handler.service.Program(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, programView(config))
}

func (handler *httpHandler) handleUpdateProgram(ctx *gin.Context) {
	var request programUpdateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	update := loyalty.ProgramUpdate{
		EarnRate:            request.EarnRate,
		MinPointsPerVisit:   request.MinPointsPerVisit,
		MaxPointsPerVisit:   request.MaxPointsPerVisit,
		ClearVisitBounds:    request.ClearVisitBounds,
		BirthdayBonus:       request.BirthdayBonus,
		ReferralBonus:       request.ReferralBonus,
		SignupBonus:         request.SignupBonus,
		PointValue:          request.PointValue,
		MinPointsRedemption: request.MinPointsRedemption,
		ExpirationMonths:    request.ExpirationMonths,
		ClearExpiration:     request.ClearExpiration,
		TiersEnabled:        request.TiersEnabled,
		Active:              request.Active,
	}
	if request.Tiers != nil {
		tiers := make([]loyalty.TierThreshold, 0, len(request.Tiers))
		for _, tier := range request.Tiers {
			tiers = append(tiers, loyalty.TierThreshold(tier))
		}
		update.Tiers = tiers
	}
	config, err := handler.service.UpdateProgram(ctx.Request.Context(), update)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, programView(config))
}

func (handler *httpHandler) handleListRewards(ctx *gin.Context) {
	filter := loyalty.RewardFilter{ActiveOnly: ctx.Query("active") == "true"}
	if raw := ctx.Query("type"); raw != "" {
		rewardType, err := loyalty.ParseRewardType(raw)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Type = rewardType
	}
	rewards, err := handler.service.ListRewards(ctx.Request.Context(), filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	views := make([]rewardPayload, 0, len(rewards))
	for _, reward := range rewards {
		views = append(views, rewardView(reward))
	}
	ctx.JSON(http.StatusOK, views)
}

func (handler *httpHandler) handleCreateReward(ctx *gin.Context) {
	var payload rewardPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reward, err := handler.service.CreateReward(ctx.Request.Context(), rewardFromPayload(payload))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, rewardView(reward))
}

func (handler *httpHandler) handleGetReward(ctx *gin.Context) {
	reward, err := handler.service.GetReward(ctx.Request.Context(), ctx.Param("rewardID"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rewardView(reward))
}

func (handler *httpHandler) handleUpdateReward(ctx *gin.Context) {
	var payload rewardPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reward := rewardFromPayload(payload)
	reward.RewardID = ctx.Param("rewardID")
	updated, err := handler.service.UpdateReward(ctx.Request.Context(), reward)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rewardView(updated))
}

func (handler *httpHandler) handleDeleteReward(ctx *gin.Context) {
	if err := handler.service.DeactivateReward(ctx.Request.Context(), ctx.Param("rewardID")); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func queryInt(ctx *gin.Context, key string) int {
	value, err := strconv.Atoi(ctx.Query(key))
	if err != nil {
		return 0
	}
	return value
}

func respondError(ctx *gin.Context, err error) {
	var notActive loyalty.RedemptionNotActiveError
	if errors.As(err, &notActive) {
		ctx.JSON(http.StatusConflict, gin.H{
			"error":  notActive.Error(),
			"status": notActive.Status.String(),
		})
		return
	}
	ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, loyalty.ErrRewardNotFound),
		errors.Is(err, loyalty.ErrRedemptionNotFound),
		errors.Is(err, loyalty.ErrCustomerNotFound),
		errors.Is(err, loyalty.ErrTransactionNotFound),
		errors.Is(err, loyalty.ErrProgramNotFound):
		return http.StatusNotFound
	case errors.Is(err, loyalty.ErrNegativeBalance),
		errors.Is(err, loyalty.ErrInsufficientBalance),
		errors.Is(err, loyalty.ErrRewardInactive),
		errors.Is(err, loyalty.ErrBelowMinimumRedemption),
		errors.Is(err, loyalty.ErrOutsideAvailabilityWindow),
		errors.Is(err, loyalty.ErrRedemptionCapReached),
		errors.Is(err, loyalty.ErrRedemptionNotActive):
		return http.StatusConflict
	case errors.Is(err, loyalty.ErrInvalidAmount),
		errors.Is(err, loyalty.ErrInvalidCustomerID),
		errors.Is(err, loyalty.ErrInvalidTransactionKind),
		errors.Is(err, loyalty.ErrInvalidPointSource),
		errors.Is(err, loyalty.ErrInvalidRewardType),
		errors.Is(err, loyalty.ErrInvalidRedemptionStatus),
		errors.Is(err, loyalty.ErrInvalidBonusKind),
		errors.Is(err, loyalty.ErrInvalidReward),
		errors.Is(err, loyalty.ErrInvalidTierThreshold),
		errors.Is(err, loyalty.ErrInvalidProgramConfig):
		return http.StatusBadRequest
	case errors.Is(err, loyalty.ErrCodeGenerationExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
