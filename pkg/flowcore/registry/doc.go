// Package registry provides a generic concurrency-safe index of values by key.
//
// flowcore uses it for the tools of a module.Toolset, which are looked up
// by name while tasks run concurrently.
//
//	tools := registry.New[string, module.Tool]()
//	tools.Register("search", module.AsTool(search))
//
//	for name, tool := range tools.All() {
//	    fmt.Println(name, tool.Description)
//	}
//
// GetOrCreate initializes an entry at most once per key:
//
//	tool := tools.GetOrCreate("echo", newEchoTool)
package registry
