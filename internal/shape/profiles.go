package shape

// 内置结构：raw 返回整个文档；v3/v4 对应 SDK 两代的字段嵌套；
// auto 依次尝试新旧两种嵌套，最后退回整个文档。
func init() {
	MustRegister(Profile{
		Key:         "raw",
		Description: "Whole response document is the payload",
		Paths:       []string{"@this"},
	})
	MustRegister(Profile{
		Key:         "v3",
		Description: "SDK v0.3.x responses: payload under data",
		Paths:       []string{"data"},
	})
	MustRegister(Profile{
		Key:         "v4",
		Description: "SDK v0.4.x responses: payload under result.data",
		Paths:       []string{"result.data", "result"},
	})
	MustRegister(Profile{
		Key:         defaultProfileKey,
		Description: "Probe v0.4.x nesting, then v0.3.x, then the whole document",
		Paths:       []string{"result.data", "data.result", "data", "result", "@this"},
	})
}
