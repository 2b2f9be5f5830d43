package router

import "github.com/jrsteele09/citycard-gateway/guard"

// Error view paths.
const (
	ForbiddenPath = "/403"
	NotFoundPath  = "/404"
	ErrorPath     = "/500"
)

// DefaultRoutes is the citizen card application's route table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", Name: "home", Meta: guard.Meta{Title: "首頁"}},
		{Path: "/login", Name: "login", Meta: guard.Meta{GuestOnly: true, Title: "登入", Layout: guard.LayoutBlank}},
		{Path: "/register", Name: "register", Meta: guard.Meta{GuestOnly: true, Title: "註冊", Layout: guard.LayoutBlank}},
		{Path: "/profile", Name: "profile", Meta: guard.Meta{RequiresAuth: true, Title: "個人資料"}},
		{Path: "/movies", Name: "movies", Meta: guard.Meta{Title: "電影列表"}},
		{Path: "/movies/:id", Name: "movie-detail", Meta: guard.Meta{Title: "電影詳情"}},
		{Path: "/booking/:scheduleId", Name: "booking", Meta: guard.Meta{RequiresAuth: true, Title: "訂票"}},
		{Path: "/wallet", Name: "wallet", Meta: guard.Meta{RequiresAuth: true, Title: "我的錢包"}},
		{Path: "/discounts", Name: "discounts", Meta: guard.Meta{Title: "優惠活動"}},
		{Path: "/stores", Name: "stores", Meta: guard.Meta{Title: "合作商店"}},
		{
			Path: "/admin",
			Name: "admin",
			Meta: guard.Meta{RequiresAuth: true, RequiresAdmin: true, Title: "管理後台", Layout: guard.LayoutAdmin},
			Children: []Route{
				{Path: "movies", Name: "admin-movies", Meta: guard.Meta{Title: "電影管理"}},
				{Path: "users", Name: "admin-users", Meta: guard.Meta{Title: "用戶管理"}},
				{Path: "discounts", Name: "admin-discounts", Meta: guard.Meta{Title: "優惠管理"}},
				{Path: "stores", Name: "admin-stores", Meta: guard.Meta{Title: "商店管理"}},
			},
		},
		{Path: ForbiddenPath, Name: "forbidden", Meta: guard.Meta{Title: "無權限", Layout: guard.LayoutBlank}},
		{Path: NotFoundPath, Name: "not-found-page", Meta: guard.Meta{Title: "找不到頁面", Layout: guard.LayoutBlank}},
		{Path: ErrorPath, Name: "error", Meta: guard.Meta{Title: "系統錯誤", Layout: guard.LayoutBlank}},
		{Path: CatchAll, Name: "not-found", Meta: guard.Meta{Title: "找不到頁面", Layout: guard.LayoutBlank}},
	}
}
