// Package custody 实现两层信封加密的密钥托管：主密钥包裹每个 Agent 的
// AEK，AEK 再包裹链上签名私钥。
//
// 明文 AEK 与私钥只在 secret.Buffer 中短暂存在，任何路径返回前都会被清零。
package custody
