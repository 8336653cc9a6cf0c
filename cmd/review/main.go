package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"
	"eco-challenge-rewards-go/internal/models"

	"go.uber.org/zap"
)

const reviewer = "cli"

func printRecord(rec models.ChallengeRecord, isLast bool) {
	confidence := "n/a"
	if rec.AiConfidence != nil {
		confidence = fmt.Sprintf("%.0f%%", *rec.AiConfidence*100)
	}
	fmt.Printf("%s %s  user=%s  challenge=%s  date=%s\n",
		common.BoxPrefix(isLast), rec.Id, rec.UserId, rec.ChallengeId, rec.ActivityDate)
	fmt.Printf("%s confidence=%s  %s\n", common.BoxDetailPrefix(isLast), confidence, rec.AiExplanation)
}

func printResult(result *models.VerificationResult) {
	common.PrintHeader("REVIEW RESULT", common.DefaultWidth)
	common.PrintField("Record", result.RecordId)
	common.PrintField("Status", result.Status)
	common.PrintField("Message", result.Message)
	for _, e := range result.Effects {
		if e.Err != nil {
			fmt.Printf("Effect %s failed: %v\n", e.Name, e.Err)
		}
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	listFlag := flag.Bool("list", false, "List records waiting for review")
	limitFlag := flag.Int("limit", 20, "Page size for --list")
	approveFlag := flag.String("approve", "", "Approve the record with this id")
	rejectFlag := flag.String("reject", "", "Reject the record with this id")
	reasonFlag := flag.String("reason", "", "Rejection reason shown to the user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	svc := services.VerificationService

	switch {
	case *approveFlag != "":
		result, err := svc.AdminApprove(ctx, strings.TrimSpace(*approveFlag), reviewer)
		if err != nil {
			zap.L().Fatal("Approval failed", zap.String("record_id", *approveFlag), zap.Error(err))
		}
		printResult(result)
	case *rejectFlag != "":
		result, err := svc.AdminReject(ctx, strings.TrimSpace(*rejectFlag), reviewer, *reasonFlag)
		if err != nil {
			zap.L().Fatal("Rejection failed", zap.String("record_id", *rejectFlag), zap.Error(err))
		}
		printResult(result)
	case *listFlag:
		records, err := svc.ListNeedsReview(ctx, *limitFlag, 0)
		if err != nil {
			zap.L().Fatal("Failed to list records", zap.Error(err))
		}
		common.PrintHeader("RECORDS NEEDING REVIEW", common.DefaultWidth)
		for i, rec := range records {
			printRecord(rec, i == len(records)-1)
		}
		common.PrintFooter(fmt.Sprintf("%d records", len(records)), common.DefaultWidth)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
