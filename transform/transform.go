// Package transform 定义连接上逐块应用的字节变换。
//
// 变换对每次 read 得到的数据块独立调用，结果按顺序追加到连接的发送队列。
// Upper 和 Echo 逐字节映射，输出与分块方式无关；Zstd 每块产生一个独立帧，
// 对端按帧拼接解码即可还原输入。
package transform

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrUnknown = errors.New("transform: unknown name")

// Transform 把 src 变换后追加到 dst 并返回结果，不得保留 src
type Transform interface {
	Apply(dst, src []byte) []byte
}

// Func 适配普通函数
type Func func(dst, src []byte) []byte

func (f Func) Apply(dst, src []byte) []byte { return f(dst, src) }

var (
	// Upper 把 ASCII 小写字母转为大写，其他字节原样保留
	Upper Transform = Func(upper)
	// Echo 原样返回
	Echo Transform = Func(func(dst, src []byte) []byte { return append(dst, src...) })
)

var registry = map[string]Transform{
	"upper": Upper,
	"echo":  Echo,
	"zstd":  Zstd,
}

// Lookup 按名称查找内置变换
func Lookup(name string) (Transform, error) {
	t, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "%q", name)
	}
	return t, nil
}

// Names 返回全部内置变换名，按字母序
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func upper(dst, src []byte) []byte {
	for _, c := range src {
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		dst = append(dst, c)
	}
	return dst
}
