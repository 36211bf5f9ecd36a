package mcpserver

// PeriodFormat documents the labels found in the dataset's Date column.
const PeriodFormat = `# Period Label Format

The Date column of the off-balance-sheet dataset holds period labels rather
than calendar dates. Every label is converted to the first day of the period
it names, at midnight UTC.

| Label     | Meaning              | Date       |
|-----------|----------------------|------------|
| ` + "`1999:Q1`" + ` | first quarter 1999   | 1999-01-01 |
| ` + "`1999:Q2`" + ` | second quarter 1999  | 1999-04-01 |
| ` + "`1999:Q3`" + ` | third quarter 1999   | 1999-07-01 |
| ` + "`1999:Q4`" + ` | fourth quarter 1999  | 1999-10-01 |
| ` + "`2001`" + `    | the year 2001        | 2001-01-01 |

## Rules

1. A label is either ` + "`YYYY`" + ` or ` + "`YYYY:Qn`" + ` with exactly one colon.
2. The year is a base-10 integer. Surrounding spaces are ignored.
3. The quarter digit is the second character after the colon and must be 1-4.
4. Anything else is rejected with an error naming the label.
5. Values that are already dates are left unchanged.
`
