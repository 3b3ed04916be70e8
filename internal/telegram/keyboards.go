package telegram

import (
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data of the inline buttons. Risk profiles, objectives and
// liquidity metrics use their own string values.
const (
	cbAssemble       = "assemble_portfolio"
	cbCheckPortfolio = "check_portfolio"
	cbCancel         = "cancel"
	cbYes            = "yes"
	cbNo             = "no"
)

var (
	riskLabels = map[users.RiskProfile]string{
		users.RiskLow:    "Низкий",
		users.RiskMedium: "Средний",
		users.RiskHigh:   "Высокий",
	}
	objectiveLabels = map[optimization.Objective]string{
		optimization.ObjectiveRisk:      "Риск",
		optimization.ObjectiveReturn:    "Доходность",
		optimization.ObjectiveLiquidity: "Ликвидность",
	}
	metricLabels = map[optimization.LiquidityMetric]string{
		optimization.MetricAverageTradingVolume: "Средний торговый объем",
		optimization.MetricTurnoverRatio:        "Коэффициент оборота",
		optimization.MetricBidAskSpread:         "Спред между спросом и предложением",
		optimization.MetricTimeToSale:           "Время до продажи",
	}
)

func column(buttons ...tgbotapi.InlineKeyboardButton) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, len(buttons))
	for i, b := range buttons {
		rows[i] = tgbotapi.NewInlineKeyboardRow(b)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cancelButton() tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData("Отмена", cbCancel)
}

func mainMenu() tgbotapi.InlineKeyboardMarkup {
	return column(
		tgbotapi.NewInlineKeyboardButtonData("Собрать портфель", cbAssemble),
		tgbotapi.NewInlineKeyboardButtonData("Мой портфель", cbCheckPortfolio),
	)
}

func riskKeyboard() tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, 4)
	for _, p := range users.RiskProfiles() {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(riskLabels[p], string(p)))
	}
	return column(append(buttons, cancelButton())...)
}

func objectiveKeyboard() tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, 4)
	for _, o := range optimization.Objectives() {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(objectiveLabels[o], string(o)))
	}
	return column(append(buttons, cancelButton())...)
}

func metricKeyboard() tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, 5)
	for _, m := range optimization.LiquidityMetrics() {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(metricLabels[m], string(m)))
	}
	return column(append(buttons, cancelButton())...)
}

func cancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return column(cancelButton())
}

func yesNoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return column(
		tgbotapi.NewInlineKeyboardButtonData("Да", cbYes),
		tgbotapi.NewInlineKeyboardButtonData("Нет", cbNo),
	)
}
