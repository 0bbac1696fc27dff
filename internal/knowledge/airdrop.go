package knowledge

import "strings"

// AirdropDetails 返回 Sonic 积分与 Gems 空投说明，供 airdrop_details
// 工具直接交给大模型转述。
func AirdropDetails() string {
	snippets := AirdropSnippets()
	parts := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		parts = append(parts, snippet.Content)
	}
	return strings.Join(parts, "\n\n")
}

// AirdropSnippets 返回空投知识条目，可合并进静态知识库。
func AirdropSnippets() []Snippet {
	return []Snippet{
		{
			Title:    "Sonic Points",
			Keywords: []string{"airdrop", "points", "season"},
			Content: `Sonic Points are user-focused airdrop points that can be earned as part of the ~200 million S airdrop. To earn Sonic Points, hold and use whitelisted assets across DeFi apps. Points are distributed over multiple seasons as NFT positions; the first season began with Sonic's launch and concludes in June 2025.

How to earn points:
1. Passive Points - hold whitelisted assets directly in a Web3 wallet (Rabby, MetaMask, hardware wallets). Assets held on centralized exchanges are not eligible.
2. Activity Points - deploy whitelisted assets as liquidity on participating apps for 2x the points of passive holding.
3. App Points (Gems) - apps compete for an allocation called Sonic Gems and redistribute the redeemed S tokens to their users through their own points programs.

Whitelisted asset multipliers: scUSD/stkscUSD/wstkscUSD 6x; USDC.e 5x; S, wS, stS, OS, scETH, stkscETH, wstkscETH, scBTC, stkscBTC, wstkscBTC 4x; WETH, LBTC, SolvBTC, SolvBTC.BBN, x33 2x. WETH, scUSD, scETH, scBTC, LBTC, SolvBTC and SolvBTC.BBN earn activity points only. S staked through MySonic is not eligible; use stS by Beets for liquid staking instead.

The points dashboard lets users check earned points, list participating apps, get whitelisted assets, generate referral codes, and view the leaderboard.`,
		},
		{
			Title:    "Sonic Gems",
			Keywords: []string{"airdrop", "gems", "apps"},
			Content: `Sonic Gems are developer-focused airdrop points rewarding apps for driving user engagement. Apps redeem Gems for S tokens and distribute them to their users at their own discretion. Season 1 distributes 1,680,000 Gems, of which 262,500 are pre-allocated to Sonic Boom winners (Emerald 13,125, Sapphire 8,750, Ruby 4,375 per winner).

An app's share is determined by category weight (bridges 5; CLOB DEX, lending markets and fixed yield 4; GambleFi, perps and derivatives 3; yield, gaming and spot DEX 2; tooling 1), a Sonic-native weight (exclusive 2, primarily on Sonic 1, multi-chain 0.5), and an incentive weight equal to the share of claimed S actually distributed to users. Gems can be revoked for incentivizing project tokens with Gems, suspicious distribution practices, or misrepresenting redistribution.`,
		},
	}
}
