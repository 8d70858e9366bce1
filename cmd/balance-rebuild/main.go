package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"bitbucket.org/mmdatafocus/receivables_backend/workflow"
	"github.com/sirupsen/logrus"
)

// balance-rebuild re-derives the ledger checkpoints from the source tables,
// for one customer or for every customer of a business. Run it after data
// repair or when drift is suspected.
func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	customerID := flag.Int("customer-id", 0, "Optional: rebuild a single customer")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing customers and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := utils.SetBusinessIdInContext(context.Background(), strings.TrimSpace(*businessID))
	ctx = utils.SetUserNameInContext(ctx, "balance-rebuild")

	if *customerID > 0 {
		result, err := workflow.RebuildCustomerBalances(ctx, logger, *customerID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rebuild failed for customer %d: %v\n", *customerID, err)
			os.Exit(1)
		}
		printResult(result)
		return
	}

	if *continueOnError {
		var customerIds []int
		if err := db.WithContext(ctx).Table("customers").
			Where("business_id = ?", *businessID).
			Order("id ASC").Pluck("id", &customerIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "listing customers failed: %v\n", err)
			os.Exit(1)
		}
		failed := 0
		for _, id := range customerIds {
			result, err := workflow.RebuildCustomerBalances(ctx, logger, id)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "rebuild failed for customer %d: %v\n", id, err)
				continue
			}
			printResult(result)
		}
		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d customer(s) failed\n", failed)
			os.Exit(1)
		}
		return
	}

	results, err := workflow.RebuildAllCustomerBalances(ctx, logger)
	for _, result := range results {
		printResult(result)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
}

func printResult(r *workflow.RebuildResult) {
	drift := ""
	if r.PreviousDrift {
		drift = fmt.Sprintf(" (drift corrected, was %s)", r.PreviousCached)
	}
	fmt.Printf("customer %d: %d lines, %d months, %d years, balance %s%s\n",
		r.CustomerId, r.SourceLines, r.MonthsRebuilt, r.YearsRebuilt, r.FinalBalance, drift)
}
