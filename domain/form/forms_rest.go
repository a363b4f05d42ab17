package form

import (
	"errors"
	"net/http"

	"maintos/bizerror"
	"maintos/misc"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

var (
	PathForms        = "/v1/forms"
	PathFormTasks    = "/v1/form-tasks"
	PathFormVersions = "/v1/form-versions"
)

func RegisterFormsRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathForms, middleWares...)
	g.GET("", handleQueryForms)
	g.POST("", handleCreateForm)
	g.GET(":id", handleDetailForm)
	g.POST(":id/versions", handlePublishForm)
	g.GET(":id/versions", handleListFormVersions)
	g.PUT(":id/task-orders", handleUpdateTaskOrders)

	t := r.Group(PathFormTasks, middleWares...)
	t.POST("", handleCreateTask)
	t.PUT(":id", handleUpdateTask)
	t.DELETE(":id", handleDeleteTask)

	v := r.Group(PathFormVersions, middleWares...)
	v.GET(":id", handleDetailFormVersion)
	v.DELETE(":id", handleDeactivateFormVersion)
}

func handleQueryForms(c *gin.Context) {
	query := FormQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	forms, err := QueryFormsFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: forms, Total: uint64(len(*forms))})
}

func handleCreateForm(c *gin.Context) {
	creation := FormCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateFormFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDetailForm(c *gin.Context) {
	detail, err := DetailFormFunc(parseFormId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, detail)
}

func handlePublishForm(c *gin.Context) {
	record, err := PublishFormFunc(parseFormId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleListFormVersions(c *gin.Context) {
	versions, err := ListFormVersionsFunc(parseFormId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: versions, Total: uint64(len(versions))})
}

func handleUpdateTaskOrders(c *gin.Context) {
	var wantedOrders []TaskOrderRangeUpdating
	if err := c.ShouldBindBodyWith(&wantedOrders, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	if err := UpdateTaskRangeOrdersFunc(parseFormId(c), &wantedOrders, session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusOK)
}

func handleCreateTask(c *gin.Context) {
	creation := TaskCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateTaskFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleUpdateTask(c *gin.Context) {
	updating := TaskUpdating{}
	if err := c.ShouldBindBodyWith(&updating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	updated, err := UpdateTaskFunc(parseFormId(c), &updating, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, updated)
}

func handleDeleteTask(c *gin.Context) {
	if err := DeleteTaskFunc(parseFormId(c), session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusNoContent)
}

func handleDetailFormVersion(c *gin.Context) {
	record, err := DetailFormVersionFunc(parseFormId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, record)
}

func handleDeactivateFormVersion(c *gin.Context) {
	if err := DeactivateFormVersionFunc(parseFormId(c), session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusNoContent)
}

func parseFormId(c *gin.Context) types.ID {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}
	return id
}
