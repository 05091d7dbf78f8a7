package contract

// PredictionMarketABI is the ABI of the deployed prediction market.
const PredictionMarketABI = `[
	{"type":"function","name":"creationFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"marketCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{
		"type":"function","name":"markets","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"}],
		"outputs":[
			{"name":"question","type":"string"},
			{"name":"metadataURI","type":"string"},
			{"name":"closingTime","type":"uint64"},
			{"name":"creator","type":"address"},
			{"name":"totalYesStake","type":"uint256"},
			{"name":"totalNoStake","type":"uint256"},
			{"name":"totalLiquidity","type":"uint256"},
			{"name":"outcome","type":"uint8"},
			{"name":"resolved","type":"bool"},
			{"name":"totalLiquidityShares","type":"uint256"},
			{"name":"accFeePerShare","type":"uint256"}
		]
	},
	{
		"type":"function","name":"provideLiquidity","stateMutability":"payable",
		"inputs":[{"name":"marketId","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	},
	{
		"type":"function","name":"placeBet","stateMutability":"payable",
		"inputs":[{"name":"marketId","type":"uint256"},{"name":"isYes","type":"bool"}],
		"outputs":[{"name":"","type":"uint256"}]
	},
	{
		"type":"function","name":"withdrawLiquidity","stateMutability":"nonpayable",
		"inputs":[{"name":"marketId","type":"uint256"},{"name":"amount","type":"uint256"}],
		"outputs":[]
	},
	{"type":"function","name":"claimWinnings","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimLiquidityFees","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"refundLiquidity","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{
		"type":"function","name":"getBetPosition","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],
		"outputs":[{"name":"yesStake","type":"uint256"},{"name":"noStake","type":"uint256"},{"name":"claimed","type":"bool"}]
	},
	{
		"type":"function","name":"getLiquidityPosition","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],
		"outputs":[{"name":"depositAmount","type":"uint256"},{"name":"pendingFees","type":"uint256"},{"name":"shares","type":"uint256"}]
	},
	{
		"type":"event","name":"MarketCreated","anonymous":false,
		"inputs":[
			{"name":"marketId","type":"uint256","indexed":true},
			{"name":"creator","type":"address","indexed":true},
			{"name":"question","type":"string","indexed":false},
			{"name":"closingTime","type":"uint64","indexed":false},
			{"name":"metadataURI","type":"string","indexed":false}
		]
	},
	{
		"type":"event","name":"LiquidityProvided","anonymous":false,
		"inputs":[
			{"name":"marketId","type":"uint256","indexed":true},
			{"name":"provider","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"feeCharged","type":"uint256","indexed":false}
		]
	},
	{
		"type":"event","name":"BetPlaced","anonymous":false,
		"inputs":[
			{"name":"marketId","type":"uint256","indexed":true},
			{"name":"bettor","type":"address","indexed":true},
			{"name":"isYes","type":"bool","indexed":false},
			{"name":"stake","type":"uint256","indexed":false},
			{"name":"feeCharged","type":"uint256","indexed":false}
		]
	},
	{
		"type":"event","name":"MarketResolved","anonymous":false,
		"inputs":[
			{"name":"marketId","type":"uint256","indexed":true},
			{"name":"outcome","type":"uint8","indexed":false}
		]
	}
]`
