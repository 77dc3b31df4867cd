// Package discovery turns search keywords into posting references.
package discovery

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultSearchURL is the Saramin recruit search endpoint.
const DefaultSearchURL = "https://www.saramin.co.kr/zf_user/search/recruit"

// DefaultLocationCode is used for region names missing from the table (서울).
const DefaultLocationCode = "101000"

var locationCodes = map[string]string{
	"서울": "101000",
	"경기": "102000",
	"인천": "103000",
	"부산": "104000",
	"대구": "105000",
	"광주": "106000",
	"대전": "107000",
	"울산": "108000",
	"세종": "109000",
	"강원": "110000",
	"충북": "111000",
	"충남": "112000",
	"전북": "113000",
	"전남": "114000",
	"경북": "115000",
	"경남": "116000",
	"제주": "117000",
}

var employmentTypeCodes = map[string]string{
	"정규직": "1",
	"계약직": "2",
}

// LocationCode maps a region name to the site's region code.
func LocationCode(name string) string {
	if code, ok := locationCodes[strings.TrimSpace(name)]; ok {
		return code
	}
	return DefaultLocationCode
}

// EmploymentTypeCode maps an employment type to the site's code. Types
// without a code are left out of the query.
func EmploymentTypeCode(name string) (string, bool) {
	code, ok := employmentTypeCodes[strings.TrimSpace(name)]
	return code, ok
}

// Query is the per-keyword search input.
type Query struct {
	Keyword  string
	Location string
	JobType  string
	// MaxPages bounds pagination for this query; zero keeps the discoverer's limit.
	MaxPages int
}

// BuildSearchURL builds the deterministic, most-recent-first search URL for one result page.
func BuildSearchURL(base string, q Query, pageSize, page int) string {
	if base == "" {
		base = DefaultSearchURL
	}
	params := url.Values{}
	params.Set("searchword", q.Keyword)
	params.Set("loc_mcd", LocationCode(q.Location))
	params.Set("recruitPageCount", strconv.Itoa(pageSize))
	params.Set("recruitSort", "reg_dt")
	params.Set("searchType", "search")
	if code, ok := EmploymentTypeCode(q.JobType); ok {
		params.Set("emp_type", code)
	}
	if page > 1 {
		params.Set("recruitPage", strconv.Itoa(page))
	}
	return base + "?" + params.Encode()
}
