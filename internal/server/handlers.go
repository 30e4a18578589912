package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/jjtimmons/pcrdesign/internal/blast"
	"github.com/jjtimmons/pcrdesign/internal/design"
)

// submitted is the response to a new job
type submitted struct {
	JobID string `json:"job_id"`
}

// nucleotideRequest is the body of POST /nucleotide/
type nucleotideRequest struct {
	Accession []string `json:"accession" form:"accession"`
	Format    string   `json:"format" form:"format"`
}

// designRequest is the body of POST /design/
type designRequest struct {
	Sequence string `json:"sequence" form:"sequence"`
	Pairs    int    `json:"number_of_pairs" form:"number_of_pairs"`
	Database string `json:"database" form:"database"`
	PoolSize int    `json:"pool_size" form:"pool_size"`
	Audit    bool   `json:"audit" form:"audit"`
}

// designResponse is the response to POST /design/
type designResponse struct {
	Error   bool               `json:"error"`
	Message string             `json:"message"`
	Primers []design.Candidate `json:"primers"`
	Result  *design.Result     `json:"result,omitempty"`
}

// submitBlast validates the BLAST parameters in the body and queues a job for them
func (s *Server) submitBlast(c *gin.Context) {
	p, err := bindParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.submit(c, p)
}

// submitPrimers queues a BLAST of a primer pair with the primer preset
func (s *Server) submitPrimers(c *gin.Context) {
	body, err := bindParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	fwd, rev := strings.TrimSpace(body["forward"]), strings.TrimSpace(body["reverse"])
	if fwd == "" || rev == "" {
		s.fail(c, fmt.Errorf("%w: forward and reverse primers are required", blast.ErrInvalidParameter))
		return
	}

	p := blast.PrimerParams(fwd, rev)
	for _, k := range []string{"job_id", "num_threads", "outfmt"} {
		if v, ok := body[k]; ok {
			p[k] = v
		}
	}
	s.submit(c, p)
}

func (s *Server) submit(c *gin.Context, p blast.Params) {
	if _, err := s.Builder.Build(p, false); err != nil {
		s.fail(c, err)
		return
	}

	id, err := s.Jobs.Submit(p, blast.RunOptions{UseCache: true})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitted{JobID: id})
}

// getBlast returns a job's state, or its stdout with ?format=txt. With ?wait=
// the request blocks until the job is done or the wait passes
func (s *Server) getBlast(c *gin.Context) {
	id := c.Param("id")

	wait, err := s.waitFor(c.Query("wait"))
	if err != nil {
		s.fail(c, err)
		return
	}

	job, err := s.Jobs.Get(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()
		// a job still running after the wait is returned as it is
		_ = job.Wait(ctx)
	}

	if c.Query("format") == "txt" {
		c.String(http.StatusOK, job.Stdout())
		return
	}
	c.JSON(http.StatusOK, job.State())
}

// getHits returns the accessions hit by a finished job
func (s *Server) getHits(c *gin.Context) {
	job, err := s.Jobs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if job.Status() != blast.StatusFinished {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %s is %s", job.ID, job.Status())})
		return
	}
	if job.Failed() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": job.Stderr()})
		return
	}

	hits, err := blast.Hits(job.Stdout())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if hits == nil {
		hits = []string{}
	}
	c.JSON(http.StatusOK, hits)
}

// getNucleotide returns the FASTA record of an accession as text, or wrapped
// in JSON with ?format=json
func (s *Server) getNucleotide(c *gin.Context) {
	rec, err := s.Resolver.Resolve(c.Request.Context(), c.Param("accession"))
	if err != nil {
		s.fail(c, err)
		return
	}

	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, gin.H{"response": rec})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(rec))
}

// postNucleotide looks up each accession separately
func (s *Server) postNucleotide(c *gin.Context) {
	var req nucleotideRequest
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", blast.ErrInvalidParameter, err))
		return
	}
	if len(req.Accession) == 0 {
		s.fail(c, fmt.Errorf("%w: no accessions", blast.ErrInvalidParameter))
		return
	}

	records := make(map[string]string, len(req.Accession))
	var text strings.Builder
	for _, acc := range req.Accession {
		if _, ok := records[acc]; ok {
			continue
		}
		rec, err := s.Resolver.Resolve(c.Request.Context(), acc)
		if err != nil {
			s.fail(c, err)
			return
		}
		records[acc] = rec
		text.WriteString(rec)
	}

	if req.Format == "txt" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text.String()))
		return
	}
	c.JSON(http.StatusOK, records)
}

// postDesign designs primers for the sequence in the body
func (s *Server) postDesign(c *gin.Context) {
	req := designRequest{Pairs: 5}
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", blast.ErrInvalidParameter, err))
		return
	}

	seq := strings.TrimSpace(req.Sequence)
	if seq == "" {
		s.fail(c, fmt.Errorf("%w: no sequence provided", blast.ErrInvalidParameter))
		return
	}
	// never read as a path on this host
	if !strings.HasPrefix(seq, ">") {
		seq = ">target\n" + seq
	}

	result, err := s.Designer.Design(c.Request.Context(), design.Request{
		Target:   seq,
		Pairs:    req.Pairs,
		Database: req.Database,
		PoolSize: req.PoolSize,
		Audit:    req.Audit,
	})
	switch {
	case errors.Is(err, design.ErrInsufficientPrimers):
		c.JSON(http.StatusOK, designResponse{Message: err.Error(), Primers: candidates(result), Result: result})
	case err != nil:
		s.fail(c, err)
	default:
		c.JSON(http.StatusOK, designResponse{Message: "Successfully designed primers", Primers: candidates(result), Result: result})
	}
}

func candidates(result *design.Result) []design.Candidate {
	if result == nil || result.Pairs == nil {
		return []design.Candidate{}
	}
	return result.Pairs
}

// bindParams reads BLAST parameters from a JSON object or a form. JSON numbers
// are formatted as they'd be written on the command line; true switches are
// kept and false ones dropped
func bindParams(c *gin.Context) (blast.Params, error) {
	p := blast.Params{}

	if c.ContentType() == binding.MIMEJSON {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, fmt.Errorf("%w: %v", blast.ErrInvalidParameter, err)
		}
		for k, v := range body {
			switch v := v.(type) {
			case nil:
			case bool:
				if v {
					p[k] = ""
				}
			case float64:
				p[k] = strconv.FormatFloat(v, 'g', -1, 64)
			default:
				p[k] = fmt.Sprint(v)
			}
		}
		return p, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", blast.ErrInvalidParameter, err)
	}
	for k, vs := range c.Request.PostForm {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p, nil
}

// waitFor parses ?wait= as a duration ("30s") or a number of seconds, capped at ResultTimeout
func (s *Server) waitFor(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		secs, serr := strconv.ParseFloat(v, 64)
		if serr != nil {
			return 0, fmt.Errorf("%w: wait must be a duration, got %q", blast.ErrInvalidParameter, v)
		}
		d = time.Duration(secs * float64(time.Second))
	}

	if s.ResultTimeout > 0 && d > s.ResultTimeout {
		d = s.ResultTimeout
	}
	return d, nil
}
