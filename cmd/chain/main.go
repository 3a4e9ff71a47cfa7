// Package main returns every version of a claim chain, walking both
// directions from the requested claim.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/kylejryan/timesheet-claim-chains/internal/api"
	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"
	"github.com/kylejryan/timesheet-claim-chains/internal/awsutil"
	"github.com/kylejryan/timesheet-claim-chains/internal/chain"
	"github.com/kylejryan/timesheet-claim-chains/internal/config"
	"github.com/kylejryan/timesheet-claim-chains/internal/ddb"
	"github.com/kylejryan/timesheet-claim-chains/internal/httpx"
	"github.com/kylejryan/timesheet-claim-chains/internal/logging"
	"github.com/kylejryan/timesheet-claim-chains/internal/validate"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

// App holds the application state, including configuration and AWS clients.
type App struct {
	env      config.Env
	resolver *chain.Resolver
	logger   *zap.Logger
}

// handler resolves the chain around the claim named in the query string.
func (a *App) handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if a.env.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.env.RequestTimeout)
		defer cancel()
	}

	companyID := req.QueryStringParameters["companyId"]
	timesheetID := req.QueryStringParameters["timesheetId"]

	if err := validate.ClaimKey(companyID, timesheetID); err != nil {
		return httpx.FromError(err, api.MsgChainError)
	}

	c, err := a.resolver.ResolveChain(ctx, companyID, timesheetID)
	if err != nil {
		if !apperr.Is(err, apperr.CodeNotFound) {
			a.logger.Error("failed to resolve claim chain",
				zap.String("company_id", companyID),
				zap.String("timesheet_id", timesheetID),
				zap.Error(err))
		}
		return httpx.FromError(err, api.MsgChainError)
	}

	return httpx.JSON(http.StatusOK, api.ChainResponse{Claims: c.Claims, TotalVersions: c.TotalVersions})
}

// main initializes the application and starts the Lambda handler.
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

	repo, err := ddb.Open(ctx, &cfg, env.Table, env.ValidateTable)
	if err != nil {
		logger.Fatal("failed to open claim table", zap.Error(err))
	}

	app := &App{
		env:      env,
		resolver: chain.NewResolver(repo, chain.WithLogger(logger), chain.WithMaxDepth(env.MaxChainDepth)),
		logger:   logger,
	}
	lambda.Start(app.handler)
}
