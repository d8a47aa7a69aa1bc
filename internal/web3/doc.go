// Package web3 defines the chain-access boundary consumed by the tool
// gateway: state queries, contract calls and deployments against EVM
// compatible networks. Concrete clients live in the ethereum subpackage
// and are selected through the provider registry.
package web3
