package prize

import (
	"loyalty_service/internal/model"

	"github.com/shopspring/decimal"
)

type Odd struct {
	PrizeID string          `json:"prize_id"`
	Title   string          `json:"title"`
	Type    model.PrizeType `json:"type"`
	Percent decimal.Decimal `json:"percent"`
}

// Odds is the chance, in percent rounded to two places, that the next draw
// lands on each prize given current stock.
func Odds(prizes []model.Prize) []Odd {
	var total int64
	for _, p := range prizes {
		if p.Available() && p.Probability > 0 {
			total += p.Probability
		}
	}

	odds := make([]Odd, 0, len(prizes))
	hundred := decimal.NewFromInt(100)
	for _, p := range prizes {
		pct := decimal.Zero
		if total > 0 && p.Available() && p.Probability > 0 {
			pct = decimal.NewFromInt(p.Probability).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
		}
		odds = append(odds, Odd{PrizeID: p.ID, Title: p.Title, Type: p.Type, Percent: pct})
	}
	return odds
}
