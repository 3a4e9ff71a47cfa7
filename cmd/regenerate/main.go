// Package main handles resubmission requests: it writes the next version of a
// claim, links it to the version it replaces, and returns the claim chain.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/kylejryan/timesheet-claim-chains/internal/api"
	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"
	"github.com/kylejryan/timesheet-claim-chains/internal/authz"
	"github.com/kylejryan/timesheet-claim-chains/internal/awsutil"
	"github.com/kylejryan/timesheet-claim-chains/internal/chain"
	"github.com/kylejryan/timesheet-claim-chains/internal/config"
	"github.com/kylejryan/timesheet-claim-chains/internal/ddb"
	"github.com/kylejryan/timesheet-claim-chains/internal/httpx"
	"github.com/kylejryan/timesheet-claim-chains/internal/logging"
	"github.com/kylejryan/timesheet-claim-chains/internal/models"
	"github.com/kylejryan/timesheet-claim-chains/internal/resubmit"
	"github.com/kylejryan/timesheet-claim-chains/internal/s3io"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver stores a snapshot of a resolved chain.
type Archiver interface {
	ArchiveChain(ctx context.Context, companyID, originalClaimID string, chain *models.ForwardChain) (string, error)
}

// App holds the application state, including configuration and AWS clients.
type App struct {
	env      config.Env
	engine   *resubmit.Engine
	archiver Archiver // nil unless CHAIN_ARCHIVE_BUCKET is set
	logger   *zap.Logger
}

// main initializes the app and starts the Lambda handler.
func main() {
	env := config.MustLoad()

	logger, err := logging.New(env.LogLevel, env.LogFormat)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	cfg, err := awsutil.Load(ctx, env.Region, env.Endpoint)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	repo, err := ddb.Open(ctx, &cfg, env.Table, env.ValidateTable, ddb.WithConditionalWrites(env.ConditionalWrites))
	if err != nil {
		logger.Fatal("failed to open claim table", zap.Error(err))
	}

	resolver := chain.NewResolver(repo, chain.WithLogger(logger), chain.WithMaxDepth(env.MaxChainDepth))

	app := &App{
		env:    env,
		engine: resubmit.New(repo, resolver, resubmit.WithLogger(logger)),
		logger: logger,
	}

	if env.ArchiveBucket != "" {
		s3c := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if env.Endpoint != "" {
				o.UsePathStyle = true // localstack/dev friendliness
			}
		})
		app.archiver = s3io.NewArchiver(s3c, env.ArchiveBucket)
	}

	lambda.Start(app.handler)
}

// handler processes a resubmission request.
func (a *App) handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if a.env.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.env.RequestTimeout)
		defer cancel()
	}

	var body api.ResubmitRequest
	if err := httpx.DecodeBody(req, &body); err != nil {
		return httpx.Error(http.StatusBadRequest, api.MsgInvalidBody)
	}

	res, err := a.engine.Resubmit(ctx, resubmit.Request{
		CompanyID:     body.CompanyID,
		TimesheetID:   body.TimesheetID,
		UpdatedFields: body.UpdatedFields,
		Reason:        body.Reason,
		RequestedBy:   authz.Caller(req, a.env.DevBypassAuth),
	})
	if err != nil {
		return a.failure(body, res, err)
	}

	a.archive(ctx, body.CompanyID, res)

	return httpx.JSON(http.StatusOK, api.ResubmitResponse{
		Message:       api.MsgRegenerated,
		OriginalClaim: res.OriginalClaim,
		NewClaim:      res.NewClaim,
		ClaimChain:    res.Chain,
	})
}

// failure builds the error response. A partially applied resubmission also
// reports the new claim id so the caller can reconcile the chain.
func (a *App) failure(body api.ResubmitRequest, res *resubmit.Result, err error) (events.APIGatewayProxyResponse, error) {
	e := apperr.FromError(err, api.MsgRegenerateError)
	if e.Status >= http.StatusInternalServerError || e.Status == http.StatusConflict {
		a.logger.Error("resubmission failed",
			zap.String("company_id", body.CompanyID),
			zap.String("timesheet_id", body.TimesheetID),
			zap.Error(err))
	}

	out := httpx.ErrorBody{Message: e.Message, Error: e.Cause()}
	if res != nil && res.NewClaimWritten {
		out.Outcome = string(res.Outcome)
		out.NewClaimID = res.NewClaim.TimesheetID
	}
	return httpx.JSON(e.Status, out)
}

// archive snapshots the resolved chain. Failures are logged and never fail the request.
func (a *App) archive(ctx context.Context, companyID string, res *resubmit.Result) {
	if a.archiver == nil || res.Chain == nil {
		return
	}

	key, err := a.archiver.ArchiveChain(ctx, companyID, res.NewClaim.OriginalClaimID, res.Chain)
	if err != nil {
		a.logger.Warn("failed to archive claim chain", zap.Error(err))
		return
	}
	a.logger.Info("archived claim chain", zap.String("key", key))
}
