package logs

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event signatures whose emitting contract is a token.
var (
	TopicTransfer = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	TopicApproval = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))

	TopicV2Swap = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	TopicV2Sync = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	TopicV2Mint = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	TopicV2Burn = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))
	TopicV3Swap = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

// erc20Topics share topic0 with ERC721, which indexes the token ID as a fourth topic.
var erc20Topics = map[common.Hash]struct{}{
	TopicTransfer: {},
	TopicApproval: {},
}

var poolTopics = map[common.Hash]struct{}{
	TopicV2Swap: {},
	TopicV2Sync: {},
	TopicV2Mint: {},
	TopicV2Burn: {},
	TopicV3Swap: {},
}

// Topics returns every topic0 the collector recognizes, for use in log filters.
func Topics() []common.Hash {
	return []common.Hash{TopicTransfer, TopicApproval, TopicV2Swap, TopicV2Sync, TopicV2Mint, TopicV2Burn, TopicV3Swap}
}
