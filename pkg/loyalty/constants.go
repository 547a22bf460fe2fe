package loyalty

const (
	operationAward         = "award"
	operationAdjust        = "adjust"
	operationSpend         = "spend"
	operationRedeem        = "redeem"
	operationUseRedemption = "use_redemption"
	operationSweep         = "sweep"
	operationCreateReward  = "create_reward"
	operationUpdateReward  = "update_reward"
	operationDeleteReward  = "delete_reward"
	operationUpdateProgram = "update_program"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	codePrefix      = "VIP-"
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 8
	maxCodeAttempts = 10

	redemptionTTLDays = 90
	sweepBatchLimit   = 500

	tierMultiplierFloor   = 1.0
	tierMultiplierCeiling = 5.0
)
