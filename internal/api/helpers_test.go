package api

import (
	"context"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/testutil"
)

func claim(db *testutil.TestDB, intentID, eventID string) error {
	return db.Storage.ClaimIntent(context.Background(), service.IntentClaim{
		IntentID:   intentID,
		EventID:    eventID,
		Confidence: model.ConfidenceExact,
	})
}
