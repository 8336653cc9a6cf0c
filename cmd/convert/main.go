package main

import (
	"context"
	"flag"
	"fmt"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	emailFlag := flag.String("email", "", "User's email address (required)")
	pointsFlag := flag.Int64("points", 0, "Points to convert (required)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	if *emailFlag == "" || *pointsFlag <= 0 {
		logger.Fatal("Both flags are required: --email and a positive --points")
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to find user", zap.Error(err))
	}
	user := users[0]

	result, err := services.LedgerService.Convert(ctx, user.Id, *pointsFlag)
	if err != nil {
		logger.Fatal("Conversion failed",
			zap.String("user_id", user.Id),
			zap.Int64("points", *pointsFlag),
			zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("CONVERSION COMPLETE", common.DefaultWidth)
	common.PrintField("User", fmt.Sprintf("%s (%s)", user.Name, user.Email))
	common.PrintField("Points", result.Points)
	common.PrintField("Issued", result.IssuedAmount.String())
	common.PrintField("Issuance ref", result.IssuanceRef)
	common.PrintField("New balance", result.NewBalance)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}
