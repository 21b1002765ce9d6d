// Package observability はジョブ・エクスポート・HTTP API のメトリクスを提供します。
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// 属性キー
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath はラベルの種類数を抑えます。gin のルート定義は既にパラメータ化済みで、
// どのルートにも一致しないリクエストは1つのラベルにまとめます。
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
