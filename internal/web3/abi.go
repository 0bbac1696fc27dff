package web3

// 内嵌的最小 ABI 片段。只保留流程实际调用的方法，完整 ABI 不在范围内。

// ERC20ABI 覆盖授权与余额查询。
const ERC20ABI = `[
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// SiloVaultABI 覆盖 Silo 金库的存取款路径。
const SiloVaultABI = `[
  {"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_assets","type":"uint256"},{"name":"_token","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
  {"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_assets","type":"uint256"},{"name":"_receiver","type":"address"},{"name":"_owner","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
  {"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_shares","type":"uint256"},{"name":"_receiver","type":"address"},{"name":"_owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]},
  {"name":"maxRedeem","type":"function","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"asset","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// SiloConfigABI 用于从市场配置合约取回两个金库地址。
const SiloConfigABI = `[
  {"name":"getSilos","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"silo0","type":"address"},{"name":"silo1","type":"address"}]}
]`

// SFCABI 覆盖 Sonic SFC 合约的质押委托调用。
const SFCABI = `[
  {"name":"delegate","type":"function","stateMutability":"payable","inputs":[{"name":"toValidatorID","type":"uint256"}],"outputs":[]}
]`
