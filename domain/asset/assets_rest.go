package asset

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
	PathAssets = "/v1/assets"
)

func RegisterAssetsRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathAssets, middleWares...)
	g.GET("", handleQueryAssets)
	g.POST("", handleCreateAsset)
	g.GET(":id", handleDetailAsset)
	g.PUT(":id", handleUpdateAsset)
	g.GET(":id/runtime", handleCurrentRuntime)
	g.GET(":id/runtime-measurements", handleListMeasurements)

	m := r.Group("/v1/runtime-measurements", middleWares...)
	m.POST("", handleRecordMeasurement)
}

func handleQueryAssets(c *gin.Context) {
	query := AssetQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	assets, err := QueryAssetsFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: assets, Total: uint64(len(*assets))})
}

func handleCreateAsset(c *gin.Context) {
	creation := AssetCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := CreateAssetFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDetailAsset(c *gin.Context) {
	id := parseId(c)
	detail, err := DetailAssetFunc(id, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, detail)
}

func handleUpdateAsset(c *gin.Context) {
	id := parseId(c)
	updating := AssetUpdating{}
	if err := c.ShouldBindBodyWith(&updating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	updated, err := UpdateAssetFunc(id, &updating, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, updated)
}

func handleCurrentRuntime(c *gin.Context) {
	id := parseId(c)
	current, err := CurrentRuntimeFunc(id, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	if current == nil {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, current)
}

func handleListMeasurements(c *gin.Context) {
	id := parseId(c)
	measurements, err := ListMeasurementsFunc(id, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: measurements, Total: uint64(len(measurements))})
}

func handleRecordMeasurement(c *gin.Context) {
	creation := MeasurementCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := RecordMeasurementFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func parseId(c *gin.Context) types.ID {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}
	return id
}
