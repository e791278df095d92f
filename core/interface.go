// Package core 定义了合约代码与运行时交互所需的核心接口和类型
// 合约开发者只需了解并使用此包中的接口即可编写合约
package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Address 表示区块链上的地址
type Address [20]byte

// Hash 表示32字节哈希
type Hash [32]byte

var ZeroAddress = Address{}
var ZeroHash = Hash{}

func (addr Address) String() string {
	return hex.EncodeToString(addr[:])
}

func (addr Address) IsZero() bool {
	return addr == ZeroAddress
}

// AddressFromString 宽松解析，失败时返回零地址
func AddressFromString(str string) Address {
	addr, err := ParseAddress(str)
	if err != nil {
		return ZeroAddress
	}
	return addr
}

// ParseAddress parses a 40 character hex address, with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	var addr Address
	s = trimHexPrefix(s)
	if len(s) != 2*len(addr) {
		return addr, fmt.Errorf("%w: address must be %d hex characters", ErrInvalidArgument, 2*len(addr))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	copy(addr[:], b)
	return addr, nil
}

func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *Address) UnmarshalText(text []byte) error {
	a, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*addr = a
	return nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func HashFromString(str string) Hash {
	var h Hash
	b, err := hex.DecodeString(trimHexPrefix(str))
	if err != nil || len(b) != len(h) {
		return ZeroHash
	}
	copy(h[:], b)
	return h
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(trimHexPrefix(string(text)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("%w: hash must be %d bytes", ErrInvalidArgument, len(h))
	}
	copy(h[:], b)
	return nil
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// Message 调用消息，仅在 view/transaction/payable 调用中可见
type Message struct {
	Sender  Address      // 交易发送者或发起调用的合约
	Signers []Address    // 交易签名者
	Method  string       // 被调用的方法名
	Value   *uint256.Int // 随调用附带的金额，非 payable 方法恒为零
	Trusted bool         // 为 false 时消息内容由调用方自行提供，未经验证
}

// Block 当前区块信息
type Block struct {
	Height    uint64
	Hash      Hash
	Timestamp int64 // 毫秒
}

// InvocationContext 单次调用的上下文
// pure 方法调用时 Message 与 Block 均为 nil
type InvocationContext struct {
	Message  *Message
	Block    *Block
	Contract Address
	Deployer Address
}

// Context 是合约与区块链环境交互的主要接口
// 运行时根据被调用方法的类别裁剪可用能力，越权调用返回 ErrAccessDenied
type Context interface {
	// 调用信息
	Class() Class             // 当前方法类别
	ContractAddress() Address // 当前合约地址
	Deployer() Address        // 合约部署者
	Message() *Message        // 调用消息，pure 方法返回 nil
	Block() *Block            // 区块信息，pure 方法返回 nil

	// 状态字段
	Get(field string) (any, error)     // 读取字段，未设置时返回 nil
	Set(field string, value any) error // 写入字段，持久化字段仅 transaction/payable 可写
	Delete(field string) error         // 删除字段

	// 账户操作
	Balance() (*uint256.Int, error)                 // 当前合约可用余额
	Transfer(to Address, amount *uint256.Int) error // 提交成功后结算

	// 事件
	Emit(event string, payload map[string]any) error

	// 跨合约调用，同步执行，失败时仅回滚被调用方
	Call(contract Address, method string, args ...any) (any, error)
}

// Require 条件不满足时返回回滚错误
func Require(condition bool, reason string) error {
	if condition {
		return nil
	}
	return Revert(reason)
}
