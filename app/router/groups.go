package router

import (
	"sort"
	"strings"

	"github.com/beego/beego/v2/server/web"
)

// Route 路由定义
type Route struct {
	Method  string
	Path    string
	Handler string
}

// RouteGroup 共享路径前缀的一组路由
type RouteGroup struct {
	prefix   string
	handlers *web.ControllerRegister
	routes   *[]Route
}

// NewRouteGroup 创建路由组
func NewRouteGroup(handlers *web.ControllerRegister, prefix string) *RouteGroup {
	routes := make([]Route, 0)
	return &RouteGroup{
		prefix:   prefix,
		handlers: handlers,
		routes:   &routes,
	}
}

// Group 创建子路由组，与父组共享路由表
func (rg *RouteGroup) Group(prefix string) *RouteGroup {
	return &RouteGroup{
		prefix:   rg.prefix + prefix,
		handlers: rg.handlers,
		routes:   rg.routes,
	}
}

// Add 注册控制器方法，mappings 形如 "get:List"
func (rg *RouteGroup) Add(path string, ctrl web.ControllerInterface, mappings ...string) *RouteGroup {
	full := rg.prefix + path
	if full == "" {
		full = "/"
	}
	rg.handlers.Add(full, ctrl, web.WithRouterMethods(ctrl, strings.Join(mappings, ";")))

	for _, m := range mappings {
		parts := strings.SplitN(m, ":", 2)
		if len(parts) != 2 {
			continue
		}
		*rg.routes = append(*rg.routes, Route{
			Method:  strings.ToUpper(parts[0]),
			Path:    full,
			Handler: parts[1],
		})
	}
	return rg
}

// Routes 已注册路由，按路径和方法排序
func (rg *RouteGroup) Routes() []Route {
	routes := make([]Route, len(*rg.routes))
	copy(routes, *rg.routes)
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}
