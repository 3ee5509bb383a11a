// Package identity 提供账号标识的单向哈希。
// 存储层只见到哈希后的 ownerKey，上游身份提供商更换 ID 格式时无需变更存储结构。
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// ownerKeyPrefix 是 ownerKey 的固定前缀，便于在日志和存储中识别字段类型。
const ownerKeyPrefix = "user_"

// ownerKeyHexLen 是摘要截取的十六进制字符数。
const ownerKeyHexLen = 12

// HashOwnerID 将原始账号 ID 映射为稳定的假名化 ownerKey。
// 纯函数：同样的输入在任何进程、任何时间都产生同样的输出（无盐）。
// 例：输入 "114671162830729001607"，输出形如 "user_a7f3c29bd4e1"。
func HashOwnerID(rawID string) string {
	sum := sha256.Sum256([]byte(rawID))
	return ownerKeyPrefix + hex.EncodeToString(sum[:])[:ownerKeyHexLen]
}

// IsOwnerKey 判断字符串是否已经是哈希后的 ownerKey 形态。
// 用于兼容调用方直接传 ownerKey 或传原始 ID 两种入口。
func IsOwnerKey(s string) bool {
	if len(s) != len(ownerKeyPrefix)+ownerKeyHexLen {
		return false
	}
	if s[:len(ownerKeyPrefix)] != ownerKeyPrefix {
		return false
	}
	_, err := hex.DecodeString(s[len(ownerKeyPrefix):])
	return err == nil
}

// Normalize 返回 ownerKey：已是 ownerKey 的原样返回，否则按原始 ID 哈希。
func Normalize(id string) string {
	if IsOwnerKey(id) {
		return id
	}
	return HashOwnerID(id)
}
