package execution

import (
	"errors"
	"net/http"
	"strconv"

	"maintos/bizerror"
	"maintos/misc"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

var (
	PathExecutions  = "/v1/form-executions"
	PathResponses   = "/v1/task-responses"
	PathAttachments = "/v1/response-attachments"
)

func RegisterExecutionsRestAPI(r *gin.Engine, middleWares ...gin.HandlerFunc) {
	g := r.Group(PathExecutions, middleWares...)
	g.GET("", handleQueryExecutions)
	g.POST("", handleCreateExecution)
	g.GET(":id", handleDetailExecution)
	g.POST(":id/start", handleStartExecution)
	g.POST(":id/cancel", handleCancelExecution)
	g.POST(":id/complete", handleCompleteExecution)

	p := r.Group(PathResponses, middleWares...)
	p.POST("", handleRecordResponse)

	a := r.Group(PathAttachments, middleWares...)
	a.POST("", handleUploadAttachment)
	a.GET(":id", handleDownloadAttachment)
}

func handleQueryExecutions(c *gin.Context) {
	query := ExecutionQuery{}
	if err := c.MustBindWith(&query, binding.Query); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	executions, err := QueryExecutionsFunc(&query, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, &misc.PagedBody{List: executions, Total: uint64(len(*executions))})
}

func handleCreateExecution(c *gin.Context) {
	creation := ExecutionCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	if creation.WorkOrderID == 0 && creation.VersionID == 0 {
		panic(&bizerror.ErrBadParam{Cause: errors.New("workOrderId or versionId is required")})
	}

	record, err := CreateExecutionFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDetailExecution(c *gin.Context) {
	detail, err := DetailExecutionFunc(parseExecutionId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, detail)
}

func handleStartExecution(c *gin.Context) {
	if err := StartExecutionFunc(parseExecutionId(c), session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusOK)
}

func handleCancelExecution(c *gin.Context) {
	if err := CancelExecutionFunc(parseExecutionId(c), session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusOK)
}

func handleCompleteExecution(c *gin.Context) {
	if err := CompleteExecutionFunc(parseExecutionId(c), session.ExtractSessionFromGinContext(c)); err != nil {
		panic(err)
	}
	c.AbortWithStatus(http.StatusOK)
}

func handleRecordResponse(c *gin.Context) {
	creation := ResponseCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	record, err := RecordResponseFunc(&creation, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleUploadAttachment(c *gin.Context) {
	responseId, err := types.ParseID(c.PostForm("responseId"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid responseId '" + c.PostForm("responseId") + "'")})
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	file, err := fileHeader.Open()
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	defer file.Close()

	record, err := UploadAttachmentFunc(responseId, fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"), fileHeader.Size, file, session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, record)
}

func handleDownloadAttachment(c *gin.Context) {
	record, content, err := DownloadAttachmentFunc(parseExecutionId(c), session.ExtractSessionFromGinContext(c))
	if err != nil {
		panic(err)
	}
	defer content.Close()

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Writer.Header().Set("Content-Disposition", `attachment; filename="`+record.FileName+`"`)
	c.Writer.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	c.DataFromReader(http.StatusOK, record.Size, contentType, content, nil)
}

func parseExecutionId(c *gin.Context) types.ID {
	id, err := types.ParseID(c.Param("id"))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: errors.New("invalid id '" + c.Param("id") + "'")})
	}
	return id
}
