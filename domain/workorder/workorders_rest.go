package workorder

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
	PathWorkOrders           = "/v1/work-orders"
	PathWorkOrderTypes       = "/v1/work-order-types"
	PathWorkOrderTransitions = "/v1/work-order-transitions"
)

func RegisterWorkOrdersRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathWorkOrders, middleWares...)
	g.GET("", handleQueryWorkOrders)
	g.POST("", handleCreateWorkOrder)
	g.GET(":id", handleDetailWorkOrder)

	t := r.Group(PathWorkOrderTypes, middleWares...)
	t.GET("", handleQueryWorkOrderTypes)
	t.POST("", handleCreateWorkOrderType)

	s := r.Group(PathWorkOrderTransitions, middleWares...)
	s.POST("", handleTransitionWorkOrder)
	s.GET("", handleQueryProcessSteps)
}

func handleQueryWorkOrders(c *gin.Context) {
	query := WorkOrderQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	orders, err := QueryWorkOrdersFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: orders, Total: uint64(len(*orders))})
}

func handleCreateWorkOrder(c *gin.Context) {
	creation := WorkOrderCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateWorkOrderFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDetailWorkOrder(c *gin.Context) {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}

	detail, err := DetailWorkOrderFunc(id, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, detail)
}

func handleQueryWorkOrderTypes(c *gin.Context) {
	records, err := QueryWorkOrderTypesFunc(session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, records)
}

func handleCreateWorkOrderType(c *gin.Context) {
	creation := WorkOrderTypeCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateWorkOrderTypeFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleTransitionWorkOrder(c *gin.Context) {
	transition := WorkOrderTransition{}
	if err := c.ShouldBindBodyWith(&transition, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	if err := TransitionWorkOrderFunc(&transition, session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusCreated)
}

func handleQueryProcessSteps(c *gin.Context) {
	query := ProcessStepQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	steps, err := QueryProcessStepsFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: steps, Total: uint64(len(*steps))})
}
