package entryPoint

// entryPointABI is the subset of the v0.6 EntryPoint interface used for operation construction.
const entryPointABI = `[
	{
		"type": "function",
		"name": "getSenderAddress",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "initCode", "type": "bytes"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getNonce",
		"stateMutability": "view",
		"inputs": [
			{"name": "sender", "type": "address"},
			{"name": "key", "type": "uint192"}
		],
		"outputs": [{"name": "nonce", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getUserOpHash",
		"stateMutability": "view",
		"inputs": [
			{
				"name": "userOp",
				"type": "tuple",
				"components": [
					{"name": "sender", "type": "address"},
					{"name": "nonce", "type": "uint256"},
					{"name": "initCode", "type": "bytes"},
					{"name": "callData", "type": "bytes"},
					{"name": "callGasLimit", "type": "uint256"},
					{"name": "verificationGasLimit", "type": "uint256"},
					{"name": "preVerificationGas", "type": "uint256"},
					{"name": "maxFeePerGas", "type": "uint256"},
					{"name": "maxPriorityFeePerGas", "type": "uint256"},
					{"name": "paymasterAndData", "type": "bytes"},
					{"name": "signature", "type": "bytes"}
				]
			}
		],
		"outputs": [{"name": "", "type": "bytes32"}]
	},
	{
		"type": "error",
		"name": "SenderAddressResult",
		"inputs": [{"name": "sender", "type": "address"}]
	},
	{
		"type": "error",
		"name": "FailedOp",
		"inputs": [
			{"name": "opIndex", "type": "uint256"},
			{"name": "reason", "type": "string"}
		]
	},
	{
		"type": "event",
		"name": "UserOperationEvent",
		"anonymous": false,
		"inputs": [
			{"name": "userOpHash", "type": "bytes32", "indexed": true},
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "paymaster", "type": "address", "indexed": true},
			{"name": "nonce", "type": "uint256", "indexed": false},
			{"name": "success", "type": "bool", "indexed": false},
			{"name": "actualGasCost", "type": "uint256", "indexed": false},
			{"name": "actualGasUsed", "type": "uint256", "indexed": false}
		]
	}
]`
