// Package contracts holds the ABI fragments the service interacts with.
package contracts

// RegistrarControllerABI covers the two registrar calls the service makes:
// the availability view and the payable register call.
const RegistrarControllerABI = `[
  {
    "inputs": [{"internalType": "string", "name": "name", "type": "string"}],
    "name": "available",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {"internalType": "string", "name": "name", "type": "string"},
          {"internalType": "address", "name": "owner", "type": "address"},
          {"internalType": "uint256", "name": "duration", "type": "uint256"},
          {"internalType": "address", "name": "resolver", "type": "address"},
          {"internalType": "bytes[]", "name": "data", "type": "bytes[]"},
          {"internalType": "bool", "name": "reverseRecord", "type": "bool"}
        ],
        "internalType": "struct RegistrarController.RegisterRequest",
        "name": "request",
        "type": "tuple"
      }
    ],
    "name": "register",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  }
]`
